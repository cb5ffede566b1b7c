// Package hostcall exports a descriptor table to guest code as the wazero
// host module "fdtab".
//
// Every export takes and returns i32 values. Strings and buffers are passed
// as (pointer, length) pairs into the calling module's exported memory.
// Results are non-negative on success and a negated Errno on failure.
//
//	r := wazero.NewRuntime(ctx)
//	if _, err := hostcall.Instantiate(ctx, r, tab); err != nil {
//		return err
//	}
//	mod, err := r.InstantiateWithConfig(ctx, guest, wazero.NewModuleConfig())
package hostcall
