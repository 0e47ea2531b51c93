package saxo_openapi

// UserResponse is the session user returned by root/v1/user.
type UserResponse struct {
	ClientKey  string `json:"ClientKey"`
	UserID     string `json:"UserId"`
	UserKey    string `json:"UserKey"`
	Name       string `json:"Name"`
	Language   string `json:"Language"`
	Culture    string `json:"Culture"`
	TimeZoneID int    `json:"TimeZoneId"`
}
