// Package archhook implements a userspace ARM64 inline-hook runtime:
// diverting a target function's control flow to a replacement while
// keeping the original behavior callable through a relocated trampoline,
// plus a Mach-O/ELF symbol resolver for locating hook targets by name.
//
// The package is organized leaves-first: an instruction buffer and literal
// pool (membuf.go, fixup.go) back a small ARM64 assembler (assembler.go),
// which an instruction decoder (decode.go) and relocator (relocator.go)
// use to rewrite PC-relative code for a new address. A trampoline emitter
// (trampoline.go), executable-region allocator (allocator.go), and
// cross-page code patcher (patcher.go) compose into the hook table
// (hooktable.go) that InstallInlineHook, DestroyInlineHook, and
// DestroyAllInlineHooks operate on. ResolveSymbol is backed by
// symtab_elf.go on Linux and symtab_macho.go on Darwin.
package archhook
