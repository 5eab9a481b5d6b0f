// Package protocol owns the host <-> fabric wire vocabulary.
//
// Ownership boundary:
// - io type selection and parsing
// - dispatch opcodes and stream flags
// - run operand encoding
// - error taxonomy shared by the compiler, engines and orchestrator
//
// Bit layouts live in protocol/layout, byte framing in protocol/frame and
// the per-network compiler in protocol/schema.
package protocol
