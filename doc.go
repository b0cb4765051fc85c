// Compose patches into method bodies at runtime
//
// A patch is a fragment attached to a method in one of five roles. Pre
// fragments run before the body and can skip it. Post fragments run after
// it and can replace the result. Finalize fragments always run and see the
// exception. Transform and Manipulate fragments rewrite the body itself.
// A Patcher sorts the patches of a method, synthesizes one replacement body
// from them, and installs it so every call runs the merged behavior once.
//
// Methods are either IR methods (see package ir), executed by the
// interpreter in package interp, or Go functions. A Go function is patched
// by rewriting its machine code to jump to the replacement, which calls a
// relocated copy of the original.
//
// Limitations:
//   - Native patching only works on amd64 and arm64
//   - Relies on internal Go APIs that can break at any time
//   - Silently fails to patch inlined or generic functions
package splice
