package driver

import "context"

// VerifyOptions configures a verify run: the same selection/resolution
// machinery as restore, but the decrypted bytes are compared against the
// local file or simply discarded rather than written out (spec.md §4.9).
type VerifyOptions struct {
	Selections []Selection
	// Compare, when true, reads the local file at the recorded path and
	// byte-compares it against the decrypted plaintext (verify+compare);
	// when false the plaintext is discarded once its digest is checked
	// (verify-only).
	Compare bool
}

// Verify runs the restore sequence with no destination write, asserting
// digest/size for every selected file (spec.md §4.9).
func (d *RestoreDriver) Verify(ctx context.Context, opt VerifyOptions) (*Summary, error) {
	mode := ModeVerifyOnly
	if opt.Compare {
		mode = ModeVerifyCompare
	}
	return d.Run(ctx, RestoreOptions{Mode: mode, Selections: opt.Selections})
}
