package models

// IdentityContext carries optional identity attributes for an endpoint,
// supplied by a directory or session-directory collaborator. All fields
// may be empty; the pipeline must behave correctly with a nil context.
type IdentityContext struct {
	EndpointID string   `json:"endpoint_id"`
	Profile    string   `json:"profile,omitempty"`
	DeviceType string   `json:"device_type,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

// HasAttributes reports whether the context carries any usable attribute.
func (c *IdentityContext) HasAttributes() bool {
	if c == nil {
		return false
	}
	return c.Profile != "" || c.DeviceType != "" || len(c.Groups) > 0
}
