package domain

// Caller is the pre-authenticated identity attached to a request.
type Caller struct {
	ID   string
	Role string

	// Privileged callers may delete or re-attach blobs they do not own
	// and may trigger retention sweeps.
	Privileged bool
}

// CanManage reports whether the caller may modify the blob.
func (c Caller) CanManage(b *Blob) bool {
	return c.Privileged || (c.ID != "" && c.ID == b.OwnerID)
}
