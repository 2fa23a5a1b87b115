package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lendkey/accessbot/internal/grant"
)

var (
	ErrUnknownFlag   = errors.New("unknown flag")
	ErrFlagValue     = errors.New("flag requires a value")
	ErrDuplicateFlag = errors.New("flag given more than once")
	ErrMissingFlags  = errors.New("missing required flags")
	ErrFlagDuration  = errors.New("invalid duration")
	// ErrRequesterFlag is reserved for form integrations acting on
	// behalf of someone else.
	ErrRequesterFlag = errors.New("requester flag not allowed")
)

// ParseFlags splits "text --name value --other value" into the leading
// text and a flags map. Names are case-insensitive; values run until the
// next flag and may be quoted.
func ParseFlags(args string, allowed ...string) (string, grant.Flags, error) {
	flags := grant.Flags{}
	text, rest, found := cutFlag(args)
	text = strings.TrimSpace(text)
	if !found {
		return text, flags, nil
	}

	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[strings.ToLower(a)] = true
	}

	for found {
		var segment string
		segment, rest, found = cutFlag(rest)
		name, value, _ := strings.Cut(strings.TrimSpace(segment), " ")
		name = strings.ToLower(strings.TrimSpace(name))
		value = unquote(strings.TrimSpace(value))

		if name == grant.FlagRequester && !ok[name] {
			return "", nil, ErrRequesterFlag
		}
		if !ok[name] {
			return "", nil, fmt.Errorf("%w: --%s", ErrUnknownFlag, name)
		}
		if value == "" {
			return "", nil, fmt.Errorf("%w: --%s", ErrFlagValue, name)
		}
		if _, dup := flags[name]; dup {
			return "", nil, fmt.Errorf("%w: --%s", ErrDuplicateFlag, name)
		}
		flags[name] = value
	}
	return text, flags, nil
}

// RequireFlags checks that every name in required is present.
func RequireFlags(flags grant.Flags, required []string) error {
	var missing []string
	for _, name := range required {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if strings.TrimSpace(flags[name]) == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingFlags, strings.Join(missing, ", "))
}

// ValidateDuration parses raw and bounds it to (0, limit]. A zero limit
// only checks that raw is a positive duration.
func ValidateDuration(raw string, limit time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrFlagDuration, raw)
	}
	if limit > 0 && d > limit {
		return 0, fmt.Errorf("%w: %s exceeds the maximum of %s", ErrFlagDuration, d, limit)
	}
	return d, nil
}

// cutFlag splits s at the next "--" that starts a word.
func cutFlag(s string) (before, after string, found bool) {
	if strings.HasPrefix(s, "--") {
		return "", s[2:], true
	}
	before, after, found = strings.Cut(s, " --")
	return before, after, found
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
