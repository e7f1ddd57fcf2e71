// Package router parses the mention-text command grammar and turns it
// into a typed core.CommandArgs.
package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/warraft/raftbot/internal/core"
)

var verbs = map[string]core.CommandKind{
	"blp":   core.CommandBLP,
	"png":   core.CommandPNG,
	"rembg": core.CommandRembg,
	"bg":    core.CommandRembg,
	"icon":  core.CommandIcon,
}

var inlineNumeric = regexp.MustCompile(`^([a-z]+)(\d+)$`)
var qualityToken = regexp.MustCompile(`^q(\d+)$`)
var thresholdToken = regexp.MustCompile(`^t(\d+)$`)
var longQuality = regexp.MustCompile(`^--quality[=]?(\d+)?$`)
var longThreshold = regexp.MustCompile(`^--threshold[=]?(\d+)?$`)

// Parse tokenizes a mention's text body (with the bot mention already
// stripped) and produces the typed command args. It returns false if no
// recognized verb is present.
func Parse(text string) (core.CommandArgs, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return core.CommandArgs{}, false
	}

	first := strings.ToLower(fields[0])
	rest := fields[1:]

	if kind, ok := verbs[first]; ok {
		return parseFlags(kind, rest), true
	}

	if m := inlineNumeric.FindStringSubmatch(first); m != nil {
		if kind, ok := verbs[m[1]]; ok {
			rest = append([]string{m[2]}, rest...)
			return parseFlags(kind, rest), true
		}
	}

	return core.CommandArgs{}, false
}

// parseFlags applies inline-numeric, qNN/tNN, and --quality/--threshold
// tokens against the defaults for kind, clamping in-range and leaving the
// default unchanged on any out-of-range or malformed value.
func parseFlags(kind core.CommandKind, tokens []string) core.CommandArgs {
	args := core.NewCommandArgs(kind)

	for i := 0; i < len(tokens); i++ {
		tok := strings.ToLower(tokens[i])

		switch tok {
		case "zip":
			args.Zip = true
			continue
		case "binary":
			args.Binary = true
			continue
		case "mask":
			args.Mask = true
			continue
		}

		if m := qualityToken.FindStringSubmatch(tok); m != nil {
			setQuality(&args, m[1])
			continue
		}
		if m := thresholdToken.FindStringSubmatch(tok); m != nil {
			setThreshold(&args, m[1])
			continue
		}
		if m := longQuality.FindStringSubmatch(tok); m != nil {
			value := m[1]
			if value == "" && i+1 < len(tokens) {
				value = tokens[i+1]
				i++
			}
			setQuality(&args, value)
			continue
		}
		if m := longThreshold.FindStringSubmatch(tok); m != nil {
			value := m[1]
			if value == "" && i+1 < len(tokens) {
				value = tokens[i+1]
				i++
			}
			setThreshold(&args, value)
			continue
		}

		// a bare number anywhere after the verb sets threshold for REMBG and
		// quality for every other verb; anything else unrecognized is ignored.
		if n, err := strconv.Atoi(tok); err == nil {
			if kind == core.CommandRembg {
				setThreshold(&args, strconv.Itoa(n))
			} else {
				setQuality(&args, strconv.Itoa(n))
			}
			continue
		}
		// unknown flag, ignored
	}

	return args
}

func setQuality(args *core.CommandArgs, raw string) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	if n >= 1 && n <= 100 {
		args.Quality = n
	}
}

func setThreshold(args *core.CommandArgs, raw string) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	if n >= 0 && n <= 255 {
		args.Threshold = n
	}
}
