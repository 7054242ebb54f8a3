package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的登录账号，可选地关联一个员工档案。
type User struct {
	gorm.Model
	Username           string   `gorm:"uniqueIndex;size:64"`
	PasswordHash       string   `gorm:"size:255"`
	IsAdmin            bool     `gorm:"default:false"`
	MustChangePassword bool     `gorm:"default:false"`
	ProfileID          *uint    `gorm:"uniqueIndex"`
	Profile            *Profile `gorm:"constraint:OnDelete:SET NULL"`
	// EmployeeCode 由管理员创建账号时填写，自助入职时用于认领档案。
	EmployeeCode string `gorm:"size:50;index"`
}

// Profile 表示员工档案。
type Profile struct {
	gorm.Model
	EmployeeCode     *string        `gorm:"uniqueIndex;size:50"`
	FirstName        string         `gorm:"size:50;not null"`
	LastName         string         `gorm:"size:50;not null"`
	Email            string         `gorm:"uniqueIndex;size:100;not null"`
	Phone            string         `gorm:"size:20"`
	Department       string         `gorm:"size:50;index"`
	Position         string         `gorm:"size:50"`
	HireDate         datatypes.Date `gorm:"type:date"`
	CurrentAddress   string         `gorm:"size:200"`
	PermanentAddress string         `gorm:"size:200"`
	ProfilePicture   string         `gorm:"size:255"`
	ProfileThumbnail string         `gorm:"size:255"`
	// 远程镜像中的头像对象与员工目录，未启用镜像时为空。
	RemoteProfilePictureID string `gorm:"size:512"`
	RemoteFolderID         string `gorm:"size:512"`
	// StorageKey 在创建档案时生成，之后不随姓名或工号变化；非空时全表唯一。
	StorageKey     string          `gorm:"size:160"`
	Salary         float64         `gorm:"default:0"`
	Notes          string          `gorm:"type:text"`
	Educations     []Education     `gorm:"constraint:OnDelete:CASCADE"`
	Certifications []Certification `gorm:"constraint:OnDelete:CASCADE"`
	Documents      []Document      `gorm:"constraint:OnDelete:CASCADE"`
}

// Code 返回员工工号，未设置时为空字符串。
func (p Profile) Code() string {
	if p.EmployeeCode == nil {
		return ""
	}
	return *p.EmployeeCode
}

// Education 表示教育经历。
type Education struct {
	gorm.Model
	ProfileID    uint            `gorm:"index;not null"`
	Institution  string          `gorm:"size:100;not null"`
	Degree       string          `gorm:"size:100;not null"`
	FieldOfStudy string          `gorm:"size:100;not null"`
	StartDate    datatypes.Date  `gorm:"type:date"`
	EndDate      *datatypes.Date `gorm:"type:date"`
	Description  string          `gorm:"type:text"`
}

// Certification 表示资格证书。
type Certification struct {
	gorm.Model
	ProfileID           uint            `gorm:"index;not null"`
	Name                string          `gorm:"size:100;not null"`
	IssuingOrganization string          `gorm:"size:100;not null"`
	IssueDate           datatypes.Date  `gorm:"type:date"`
	ExpiryDate          *datatypes.Date `gorm:"type:date"`
	CredentialID        string          `gorm:"size:100"`
	CredentialURL       string          `gorm:"size:200"`
}

// Document 表示员工上传的文件，本地路径必填，远程对象可选。
type Document struct {
	gorm.Model
	ProfileID        uint      `gorm:"index;not null"`
	LocalPath        string    `gorm:"size:512;not null"`
	OriginalFilename string    `gorm:"size:255;not null"`
	DocumentType     string    `gorm:"size:50;not null;index"`
	ContentType      string    `gorm:"size:128"`
	Size             int64     `gorm:"default:0"`
	RemoteID         string    `gorm:"size:512"`
	UploadedAt       time.Time `gorm:"index"`
}

// DualHomed 表示文件同时存在于本地与远程镜像。
func (d Document) DualHomed() bool {
	return d.LocalPath != "" && d.RemoteID != ""
}

// Department 表示部门，名称唯一。
type Department struct {
	gorm.Model
	Name string `gorm:"uniqueIndex;size:50;not null"`
}

// AllModels 返回需要迁移的模型列表。
func AllModels() []any {
	return []any{&Profile{}, &User{}, &Education{}, &Certification{}, &Document{}, &Department{}}
}
