package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PitchStatus string

const (
	PitchStatusDraft     PitchStatus = "draft"
	PitchStatusPublished PitchStatus = "published"
)

type PitchStep string

const (
	StepCompanyInfo PitchStep = "company_info"
	StepPitchDeal   PitchStep = "pitch_deal"
	StepTeam        PitchStep = "team"
	StepMedia       PitchStep = "media"
	StepDocuments   PitchStep = "documents"
)

// RequiredPublishSteps must all be completed before a draft can go live.
var RequiredPublishSteps = []PitchStep{StepCompanyInfo, StepPitchDeal, StepTeam}

func ValidStep(s string) bool {
	switch PitchStep(s) {
	case StepCompanyInfo, StepPitchDeal, StepTeam, StepMedia, StepDocuments:
		return true
	}
	return false
}

type CompanyInfo struct {
	PitchTitle  string `json:"pitch_title" validate:"required,max=120"`
	CompanyName string `json:"company_name" validate:"required"`
	Website     string `json:"website" validate:"omitempty,url"`
	Country     string `json:"country" validate:"required,country"`
	City        string `json:"city"`
	Industry    string `json:"industry" validate:"required"`
	Stage       string `json:"stage" validate:"required,oneof=idea prototype early_revenue growth scaling"`
	FoundedYear int    `json:"founded_year" validate:"omitempty,min=1900,max=2100"`
}

type PitchDeal struct {
	Summary         string  `json:"summary" validate:"required,max=2000"`
	Problem         string  `json:"problem"`
	Solution        string  `json:"solution"`
	Market          string  `json:"market"`
	FundingAsk      int64   `json:"funding_ask" validate:"required,gt=0"`
	MinInvestment   int64   `json:"min_investment" validate:"omitempty,gte=0"`
	EquityOffered   float64 `json:"equity_offered" validate:"omitempty,gte=0,lte=100"`
	UseOfFunds      string  `json:"use_of_funds"`
	PreviousFunding int64   `json:"previous_funding" validate:"omitempty,gte=0"`
}

type TeamMember struct {
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required"`
	Bio      string `json:"bio"`
	LinkedIn string `json:"linkedin" validate:"omitempty,url"`
}

type MediaItem struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // image, video
	URL  string `json:"url"`
	Key  string `json:"key"`
}

type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
	Key  string `json:"key"`
}

type Pitch struct {
	gorm.Model
	UserID uint        `json:"user_id" gorm:"index;not null"`
	Slug   string      `json:"slug" gorm:"uniqueIndex;not null"`
	Status PitchStatus `json:"status" gorm:"not null;index;default:'draft'"`

	// Denormalized from CompanyInfo/PitchDeal for filtering
	Title      string `json:"title"`
	Industry   string `json:"industry" gorm:"index"`
	Country    string `json:"country" gorm:"index"`
	Stage      string `json:"stage" gorm:"index"`
	FundingAsk int64  `json:"funding_ask" gorm:"index"`

	CompanyInfo    datatypes.JSONType[CompanyInfo] `json:"company_info"`
	PitchDeal      datatypes.JSONType[PitchDeal]   `json:"pitch_deal"`
	Team           datatypes.JSONSlice[TeamMember] `json:"team"`
	Media          datatypes.JSONSlice[MediaItem]  `json:"media"`
	Documents      datatypes.JSONSlice[Document]   `json:"documents"`
	CompletedSteps datatypes.JSONSlice[string]     `json:"completed_steps"`
	PublishedAt    *time.Time                      `json:"published_at"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (p *Pitch) BeforeCreate(tx *gorm.DB) error {
	if p.Slug == "" {
		base := slug.Make(p.Title)
		if base == "" {
			base = "pitch"
		}
		p.Slug = fmt.Sprintf("%s-%s", base, strings.SplitN(uuid.NewString(), "-", 2)[0])
	}
	if p.Status == "" {
		p.Status = PitchStatusDraft
	}
	return nil
}

func (p *Pitch) IsDraft() bool {
	return p.Status == PitchStatusDraft
}

func (p *Pitch) MarkStepCompleted(step PitchStep) {
	if !slices.Contains(p.CompletedSteps, string(step)) {
		p.CompletedSteps = append(p.CompletedSteps, string(step))
	}
}

// MissingSteps lists the required steps not yet completed.
func (p *Pitch) MissingSteps() []PitchStep {
	var missing []PitchStep
	for _, step := range RequiredPublishSteps {
		if !slices.Contains(p.CompletedSteps, string(step)) {
			missing = append(missing, step)
		}
	}
	return missing
}

// SetCompanyInfo stores the section and refreshes the filter columns.
func (p *Pitch) SetCompanyInfo(info CompanyInfo) {
	p.CompanyInfo = datatypes.NewJSONType(info)
	p.Title = info.PitchTitle
	p.Industry = info.Industry
	p.Country = strings.TrimSpace(info.Country)
	p.Stage = info.Stage
	p.MarkStepCompleted(StepCompanyInfo)
}

func (p *Pitch) SetPitchDeal(deal PitchDeal) {
	p.PitchDeal = datatypes.NewJSONType(deal)
	p.FundingAsk = deal.FundingAsk
	p.MarkStepCompleted(StepPitchDeal)
}

func (p *Pitch) SetTeam(team []TeamMember) {
	p.Team = team
	if len(team) > 0 {
		p.MarkStepCompleted(StepTeam)
	}
}

// HasMeaningfulContent is false for drafts abandoned before anything
// worth keeping was entered.
func (p *Pitch) HasMeaningfulContent() bool {
	return strings.TrimSpace(p.CompanyInfo.Data().PitchTitle) != "" ||
		strings.TrimSpace(p.PitchDeal.Data().Summary) != "" ||
		len(p.Team) > 0 ||
		len(p.Media) > 0 ||
		len(p.Documents) > 0
}

// StorageKeys returns every object key the pitch owns in the media bucket.
func (p *Pitch) StorageKeys() []string {
	keys := make([]string, 0, len(p.Media)+len(p.Documents))
	for _, m := range p.Media {
		if m.Key != "" {
			keys = append(keys, m.Key)
		}
	}
	for _, d := range p.Documents {
		if d.Key != "" {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// Favourite links an investor to a pitch they bookmarked.
type Favourite struct {
	gorm.Model
	InvestorID uint `json:"investor_id" gorm:"not null;uniqueIndex:idx_favourite_pair"`
	PitchID    uint `json:"pitch_id" gorm:"not null;uniqueIndex:idx_favourite_pair"`

	Pitch Pitch `json:"pitch" gorm:"foreignKey:PitchID"`
}
