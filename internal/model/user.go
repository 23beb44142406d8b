package model

// User is the identity asserted by the SSO service for one session.
type User struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID *int   `json:"companyId,omitempty"`
	ReturnURL string `json:"returnUrl"`
}
