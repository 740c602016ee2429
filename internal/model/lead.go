package model

import "gorm.io/gorm"

type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusDeclined  LeadStatus = "declined"
	LeadStatusClosed    LeadStatus = "closed"
)

func ValidLeadStatus(s string) bool {
	switch LeadStatus(s) {
	case LeadStatusNew, LeadStatusContacted, LeadStatusDeclined, LeadStatusClosed:
		return true
	}
	return false
}

// Lead is an investor's contact request on a published pitch.
type Lead struct {
	gorm.Model
	PitchID        uint       `json:"pitch_id" gorm:"index;not null"`
	EntrepreneurID uint       `json:"entrepreneur_id" gorm:"index;not null"`
	InvestorID     uint       `json:"investor_id" gorm:"index;not null"`
	Message        string     `json:"message" gorm:"type:text"`
	Status         LeadStatus `json:"status" gorm:"not null;default:'new'"`
	ReadStatus     bool       `json:"read_status" gorm:"default:false"`

	Pitch    Pitch `json:"pitch" gorm:"foreignKey:PitchID"`
	Investor User  `json:"investor" gorm:"foreignKey:InvestorID"`
}
