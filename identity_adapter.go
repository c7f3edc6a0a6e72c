package authgate

// NewIdentity returns a read only Identity.
func NewIdentity(id, email string, verified bool) Identity {
	return authIdentity{
		id:       id,
		email:    email,
		verified: verified,
	}
}

type authIdentity struct {
	id       string
	email    string
	verified bool
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) EmailVerified() bool {
	return a.verified
}

var _ Identity = authIdentity{}

// IdentitySnapshot is a serializable copy of an Identity.
type IdentitySnapshot struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// SnapshotIdentity copies identity. A nil identity yields nil.
func SnapshotIdentity(identity Identity) *IdentitySnapshot {
	if identity == nil {
		return nil
	}
	return &IdentitySnapshot{
		ID:            identity.ID(),
		Email:         identity.Email(),
		EmailVerified: identity.EmailVerified(),
	}
}
