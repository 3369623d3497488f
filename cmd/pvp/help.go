package main

import (
	"cmp"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/ui"
)

// Help is Cobra's plain text restyled one section at a time.
var (
	// An unindented line ending in ":" opens a section.
	reHeader = regexp.MustCompile(`^([A-Z][A-Za-z ]*):\s*$`)

	// A command row: two-space indent, the name, then padding.
	reCommand = regexp.MustCompile(`^(  )(\S+)(  +)`)

	reFlagType    = regexp.MustCompile(`(--?\S+\s+)(strings|string|int64|int|duration)\b`)
	reDefault     = regexp.MustCompile(`\(default "[^"]*"\)`)
	reEnvVar      = regexp.MustCompile(`\bPVP_[A-Z_]+\b`)
	rePlaceholder = regexp.MustCompile(`<[a-z-]+>`)
	reTypeToken   = regexp.MustCompile(`[a-z]+(?:[._][a-z]+)*`)
)

// Section titles that are not command lists.
const (
	sectionUsage        = "Usage"
	sectionExamples     = "Examples"
	sectionFlags        = "Flags"
	sectionGlobalFlags  = "Global Flags"
	sectionMessageTypes = "Message types"
)

// sendLong describes the send command with every inbound message type,
// one family per line.
func sendLong() string {
	var (
		b        strings.Builder
		order    []string
		families = map[string][]string{}
	)
	for _, t := range protocol.InboundTypes() {
		fam, _, _ := strings.Cut(string(t), ".")
		if _, ok := families[fam]; !ok {
			order = append(order, fam)
		}
		families[fam] = append(families[fam], string(t))
	}

	b.WriteString("Send any inbound protocol message as the current participant.\n")
	b.WriteString("The payload is passed through as JSON and checked by the server.\n\n")
	b.WriteString(sectionMessageTypes + ":\n")
	for _, fam := range order {
		fmt.Fprintf(&b, "  %s\n", strings.Join(families[fam], "  "))
	}
	return b.String()
}

// helpText renders what Cobra's default help prints: the description,
// then the usage block.
func helpText(cmd *cobra.Command) string {
	var b strings.Builder
	if desc := strings.TrimRight(cmp.Or(cmd.Long, cmd.Short), " \n"); desc != "" {
		b.WriteString(desc + "\n\n")
	}
	orig := cmd.OutOrStdout()
	cmd.SetOut(&b)
	_ = cmd.Usage()
	cmd.SetOut(orig)
	return b.String()
}

// colorizedHelpFunc returns a Cobra help function that colors the help
// text when the terminal supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		text := helpText(cmd)
		if ui.ShouldUseColor() {
			text = colorizeHelpOutput(text)
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
	}
}

func colorizeHelpOutput(s string) string {
	lines := strings.Split(s, "\n")
	section := ""
	for i, line := range lines {
		if m := reHeader.FindStringSubmatch(line); m != nil {
			section = m[1]
			if section != sectionUsage {
				lines[i] = ui.RenderAccent(m[1]+":") + line[len(m[1])+1:]
			}
			continue
		}
		lines[i] = colorizeLine(section, line)
	}
	return strings.Join(lines, "\n")
}

func colorizeLine(section, line string) string {
	switch section {
	case sectionMessageTypes:
		return reTypeToken.ReplaceAllStringFunc(line, func(tok string) string {
			if protocol.Type(tok).Inbound() {
				return ui.RenderType(tok)
			}
			return tok
		})
	case sectionFlags, sectionGlobalFlags:
		line = reFlagType.ReplaceAllString(line, "$1"+ui.RenderMuted("$2"))
		line = reDefault.ReplaceAllStringFunc(line, ui.RenderMuted)
		return reEnvVar.ReplaceAllStringFunc(line, ui.RenderAccent)
	case "", sectionUsage, sectionExamples:
		line = rePlaceholder.ReplaceAllStringFunc(line, ui.RenderMuted)
		return reEnvVar.ReplaceAllStringFunc(line, ui.RenderAccent)
	default:
		// Available Commands and the command groups.
		if m := reCommand.FindStringSubmatch(line); m != nil {
			return m[1] + ui.RenderCommand(m[2]) + m[3] + line[len(m[0]):]
		}
		return line
	}
}
