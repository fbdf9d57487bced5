package entity

// User represents a user in the system
type User struct {
	Id        string `json:"id" gorm:"column:id;primaryKey"`
	Nickname  string `json:"nickname" gorm:"column:nickname"`
	PhotoURL  string `json:"photo_url" gorm:"column:photo_url"`
	Bio       string `json:"bio" gorm:"column:bio"`
	Password  string `json:"-" gorm:"column:password"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// Profile is the public snippet of a user shown to other members
type Profile struct {
	Id       string `json:"id"`
	Nickname string `json:"nickname"`
	PhotoURL string `json:"photo_url"`
	Bio      string `json:"bio,omitempty"`
}

// ToProfile converts User to Profile
func (u *User) ToProfile() *Profile {
	return &Profile{
		Id:       u.Id,
		Nickname: u.Nickname,
		PhotoURL: u.PhotoURL,
		Bio:      u.Bio,
	}
}
