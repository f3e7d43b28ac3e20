package model

// NamedRef はGraph APIが返す {id, name} 形式の参照。
type NamedRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ProfileSnapshot はFacebook側プロフィールのある時点のコピー。
// 各フィールドは独立して空になりうる。共有キャッシュにはJSONで格納する。
type ProfileSnapshot struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name,omitempty"`
	FirstName          string           `json:"first_name,omitempty"`
	LastName           string           `json:"last_name,omitempty"`
	Link               string           `json:"link,omitempty"`
	About              string           `json:"about,omitempty"`
	Birthday           string           `json:"birthday,omitempty"`
	Email              string           `json:"email,omitempty"`
	Website            string           `json:"website,omitempty"`
	Gender             string           `json:"gender,omitempty"`
	RelationshipStatus string           `json:"relationship_status,omitempty"`
	Religion           string           `json:"religion,omitempty"`
	Political          string           `json:"political,omitempty"`
	Hometown           *NamedRef        `json:"hometown,omitempty"`
	Location           *NamedRef        `json:"location,omitempty"`
	SignificantOther   *NamedRef        `json:"significant_other,omitempty"`
	Work               []WorkEntry      `json:"work,omitempty"`
	Education          []EducationEntry `json:"education,omitempty"`
	InterestedIn       []string         `json:"interested_in,omitempty"`
	MeetingFor         []string         `json:"meeting_for,omitempty"`
	Verified           *bool            `json:"verified,omitempty"`
	Timezone           *float64         `json:"timezone,omitempty"`
	PictureURL         string           `json:"picture_url,omitempty"`
}

// WorkEntry は職歴の1件を表す。
type WorkEntry struct {
	Employer *NamedRef `json:"employer,omitempty"`
	Position *NamedRef `json:"position,omitempty"`
}

// EducationEntry は学歴の1件を表す。
type EducationEntry struct {
	School *NamedRef `json:"school,omitempty"`
	Type   string    `json:"type,omitempty"`
}
