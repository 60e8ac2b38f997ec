//go:build !linux

package supervisor

// bindCPU is a no-op outside Linux; the process runs without pinning.
func bindCPU(index int) error {
	return nil
}
