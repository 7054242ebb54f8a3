package api

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/errcode"
)

const dateLayout = "2006-01-02"

type educationRequest struct {
	Institution  string `json:"institution" binding:"required,max=100"`
	Degree       string `json:"degree" binding:"required,max=100"`
	FieldOfStudy string `json:"field_of_study" binding:"required,max=100"`
	StartDate    string `json:"start_date" binding:"required"`
	EndDate      string `json:"end_date"`
	Description  string `json:"description"`
}

type certificationRequest struct {
	Name                string `json:"name" binding:"required,max=100"`
	IssuingOrganization string `json:"issuing_organization" binding:"required,max=100"`
	IssueDate           string `json:"issue_date" binding:"required"`
	ExpiryDate          string `json:"expiry_date"`
	CredentialID        string `json:"credential_id" binding:"max=100"`
	CredentialURL       string `json:"credential_url" binding:"omitempty,url,max=200"`
}

type profileRequest struct {
	EmployeeCode     string                 `json:"employee_code" binding:"max=50"`
	FirstName        string                 `json:"first_name" binding:"required,max=50"`
	LastName         string                 `json:"last_name" binding:"required,max=50"`
	Email            string                 `json:"email" binding:"required,email,max=100"`
	Phone            string                 `json:"phone" binding:"max=20"`
	Department       string                 `json:"department" binding:"max=50"`
	Position         string                 `json:"position" binding:"max=50"`
	HireDate         string                 `json:"hire_date"`
	CurrentAddress   string                 `json:"current_address" binding:"max=200"`
	PermanentAddress string                 `json:"permanent_address" binding:"max=200"`
	Salary           *float64               `json:"salary" binding:"omitempty,min=0"`
	Notes            string                 `json:"notes"`
	Educations       []educationRequest     `json:"educations" binding:"dive"`
	Certifications   []certificationRequest `json:"certifications" binding:"dive"`
}

// contactRequest 是员工本人可修改的字段。
type contactRequest struct {
	Phone            *string                `json:"phone" binding:"omitempty,max=20"`
	CurrentAddress   *string                `json:"current_address" binding:"omitempty,max=200"`
	PermanentAddress *string                `json:"permanent_address" binding:"omitempty,max=200"`
	Educations       []educationRequest     `json:"educations" binding:"dive"`
	Certifications   []certificationRequest `json:"certifications" binding:"dive"`
}

type educationResponse struct {
	ID           uint   `json:"id"`
	Institution  string `json:"institution"`
	Degree       string `json:"degree"`
	FieldOfStudy string `json:"field_of_study"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date,omitempty"`
	Description  string `json:"description,omitempty"`
}

type certificationResponse struct {
	ID                  uint   `json:"id"`
	Name                string `json:"name"`
	IssuingOrganization string `json:"issuing_organization"`
	IssueDate           string `json:"issue_date"`
	ExpiryDate          string `json:"expiry_date,omitempty"`
	CredentialID        string `json:"credential_id,omitempty"`
	CredentialURL       string `json:"credential_url,omitempty"`
}

type profileResponse struct {
	ID               uint                     `json:"id"`
	EmployeeCode     string                   `json:"employee_code"`
	FirstName        string                   `json:"first_name"`
	LastName         string                   `json:"last_name"`
	Email            string                   `json:"email"`
	Phone            string                   `json:"phone"`
	Department       string                   `json:"department"`
	Position         string                   `json:"position"`
	HireDate         string                   `json:"hire_date,omitempty"`
	CurrentAddress   string                   `json:"current_address"`
	PermanentAddress string                   `json:"permanent_address"`
	ProfilePicture   string                   `json:"profile_picture,omitempty"`
	ProfileThumbnail string                   `json:"profile_thumbnail,omitempty"`
	StorageKey       string                   `json:"storage_key"`
	Salary           *float64                 `json:"salary,omitempty"`
	Notes            string                   `json:"notes,omitempty"`
	Educations       []educationResponse      `json:"educations"`
	Certifications   []certificationResponse  `json:"certifications"`
	Documents        []documents.DocumentView `json:"documents,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

func parseDate(field, raw string) (datatypes.Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return datatypes.Date{}, errcode.Validation(fmt.Sprintf("%s must be YYYY-MM-DD", field))
	}
	return datatypes.Date(t), nil
}

func parseOptionalDate(field, raw string) (*datatypes.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := parseDate(field, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatDate(d datatypes.Date) string {
	t := time.Time(d)
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatOptionalDate(d *datatypes.Date) string {
	if d == nil {
		return ""
	}
	return formatDate(*d)
}

func buildEducations(reqs []educationRequest) ([]database.Education, error) {
	out := make([]database.Education, 0, len(reqs))
	for _, r := range reqs {
		start, err := parseDate("start_date", r.StartDate)
		if err != nil {
			return nil, err
		}
		end, err := parseOptionalDate("end_date", r.EndDate)
		if err != nil {
			return nil, err
		}
		if end != nil && time.Time(*end).Before(time.Time(start)) {
			return nil, errcode.Validation("end_date must not be before start_date")
		}
		out = append(out, database.Education{
			Institution:  strings.TrimSpace(r.Institution),
			Degree:       strings.TrimSpace(r.Degree),
			FieldOfStudy: strings.TrimSpace(r.FieldOfStudy),
			StartDate:    start,
			EndDate:      end,
			Description:  r.Description,
		})
	}
	return out, nil
}

func buildCertifications(reqs []certificationRequest) ([]database.Certification, error) {
	out := make([]database.Certification, 0, len(reqs))
	for _, r := range reqs {
		issued, err := parseDate("issue_date", r.IssueDate)
		if err != nil {
			return nil, err
		}
		expiry, err := parseOptionalDate("expiry_date", r.ExpiryDate)
		if err != nil {
			return nil, err
		}
		out = append(out, database.Certification{
			Name:                strings.TrimSpace(r.Name),
			IssuingOrganization: strings.TrimSpace(r.IssuingOrganization),
			IssueDate:           issued,
			ExpiryDate:          expiry,
			CredentialID:        r.CredentialID,
			CredentialURL:       r.CredentialURL,
		})
	}
	return out, nil
}

// applyProfileRequest 将请求写入 profile，StorageKey 不在此处修改。
func applyProfileRequest(p *database.Profile, req profileRequest) error {
	hire := datatypes.Date{}
	if strings.TrimSpace(req.HireDate) != "" {
		d, err := parseDate("hire_date", req.HireDate)
		if err != nil {
			return err
		}
		hire = d
	}
	if code := strings.TrimSpace(req.EmployeeCode); code != "" {
		p.EmployeeCode = &code
	} else {
		p.EmployeeCode = nil
	}
	p.FirstName = strings.TrimSpace(req.FirstName)
	p.LastName = strings.TrimSpace(req.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(req.Email))
	p.Phone = strings.TrimSpace(req.Phone)
	p.Department = strings.TrimSpace(req.Department)
	p.Position = strings.TrimSpace(req.Position)
	p.HireDate = hire
	p.CurrentAddress = req.CurrentAddress
	p.PermanentAddress = req.PermanentAddress
	if req.Salary != nil {
		p.Salary = *req.Salary
	}
	p.Notes = req.Notes
	return nil
}

// newProfileResponse 构造响应；薪资与备注仅对管理员可见。
func newProfileResponse(p database.Profile, admin bool) profileResponse {
	resp := profileResponse{
		ID:               p.ID,
		EmployeeCode:     p.Code(),
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		Email:            p.Email,
		Phone:            p.Phone,
		Department:       p.Department,
		Position:         p.Position,
		HireDate:         formatDate(p.HireDate),
		CurrentAddress:   p.CurrentAddress,
		PermanentAddress: p.PermanentAddress,
		StorageKey:       p.StorageKey,
		Educations:       make([]educationResponse, 0, len(p.Educations)),
		Certifications:   make([]certificationResponse, 0, len(p.Certifications)),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.ProfilePicture != "" || p.RemoteProfilePictureID != "" {
		resp.ProfilePicture = documents.FileRef(p.ProfilePicture, p.RemoteProfilePictureID)
	}
	resp.ProfileThumbnail = p.ProfileThumbnail
	if admin {
		salary := p.Salary
		resp.Salary = &salary
		resp.Notes = p.Notes
	}
	for _, e := range p.Educations {
		resp.Educations = append(resp.Educations, educationResponse{
			ID:           e.ID,
			Institution:  e.Institution,
			Degree:       e.Degree,
			FieldOfStudy: e.FieldOfStudy,
			StartDate:    formatDate(e.StartDate),
			EndDate:      formatOptionalDate(e.EndDate),
			Description:  e.Description,
		})
	}
	for _, cert := range p.Certifications {
		resp.Certifications = append(resp.Certifications, certificationResponse{
			ID:                  cert.ID,
			Name:                cert.Name,
			IssuingOrganization: cert.IssuingOrganization,
			IssueDate:           formatDate(cert.IssueDate),
			ExpiryDate:          formatOptionalDate(cert.ExpiryDate),
			CredentialID:        cert.CredentialID,
			CredentialURL:       cert.CredentialURL,
		})
	}
	return resp
}
