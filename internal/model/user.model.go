package model

// User is a WhatsApp Business tenant: one registered phone number plus the
// credentials the Graph API hands out for it. Consumed read-only by the
// gateway; provisioning happens elsewhere.
type User struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	PhoneNumberID string   `json:"phone_number_id"`
	AccessToken   string   `json:"-"`
	VerifyToken   string   `json:"-"`
	Permissions   []string `json:"permissions"`
}

// CanNotify reports whether clients of this tenant should be pushed messages
// of type t. An empty permission list means no restriction.
func (u *User) CanNotify(t MessageType) bool {
	if len(u.Permissions) == 0 {
		return true
	}
	for _, p := range u.Permissions {
		if p == string(t) {
			return true
		}
	}
	return false
}
