//go:build !unix

package fbchan

// No default engine exists off unix; New requires WithAsyncIO there.
func defaultAsyncIO() AsyncIO {
	return nil
}
