// Implements the strata command-line interface.
//
// The root command wires global logging flags and dispatches to the build
// and version subcommands. Argument parsing is handled by kong; the parsed
// context carries the signal-aware context.Context down to command Run
// methods.
package cli
