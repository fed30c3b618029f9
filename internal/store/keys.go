package store

// Well-known keys shared by the session manager and the user cache.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyCurrentUser  = "currentUser"
	// KeyUserProfile is a legacy profile entry cleared along with the session.
	KeyUserProfile = "user_profile"
	KeyLastUserID  = "lastUserId"
)
