// Package sym defines canonical symbols for qntx-task subsystems.
// These symbols are stable across CLI output and structured logs.
package sym

// Command surfaces.
const (
	AM    = "≡" // am: configuration and system settings
	DB    = "⊔" // db: execution and config persistence
	Pulse = "꩜" // pulse: scheduled maintenance and task tracking
	Lock  = "⊘" // lock: distributed exclusion around maintenance jobs
)

// Lifecycle markers.
const (
	PulseOpen  = "✿" // scheduler startup
	PulseClose = "❀" // scheduler shutdown
)

// SymbolToCommand maps glyph strings to their CLI command names.
var SymbolToCommand = map[string]string{
	AM:    "am",
	DB:    "db",
	Pulse: "pulse",
	Lock:  "lock",
}

// CommandToSymbol maps CLI command names to their glyphs.
var CommandToSymbol = map[string]string{
	"am":    AM,
	"db":    DB,
	"pulse": Pulse,
	"lock":  Lock,
}

// CommandDescriptions provides one-line help text per command symbol.
var CommandDescriptions = map[string]string{
	"am":    "Configuration: static settings and runtime overrides",
	"db":    "Storage: migrations and execution history",
	"pulse": "Maintenance: cleanup, timeout marking, and scheduling",
	"lock":  "Locks: maintenance job exclusion",
}

// Prefix returns "<glyph> " for a command, or "" when the command has no symbol.
func Prefix(command string) string {
	if s, ok := CommandToSymbol[command]; ok {
		return s + " "
	}
	return ""
}
