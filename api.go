// api.go - the three stable public entry points (spec §6)
package archhook

// InstallInlineHook diverts target's control flow to replacement, returning
// the address of the relocated original ("call-original") prologue. Either
// callback may be nil.
func InstallInlineHook(target, replacement uintptr, beforePageWrite, afterPageWrite PageWriteCallback) (uintptr, error) {
	return DefaultHookTable().Install(target, replacement, beforePageWrite, afterPageWrite)
}

// DestroyInlineHook restores target's original bytes and stops tracking it.
func DestroyInlineHook(target uintptr) error {
	return DefaultHookTable().Uninstall(target)
}

// DestroyAllInlineHooks restores every installed hook's original bytes and
// releases the executable-region allocator. Idempotent on an empty table.
func DestroyAllInlineHooks() error {
	return DefaultHookTable().UninstallAll()
}
