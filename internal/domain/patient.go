package domain

import "time"

// Patient and Prescription are owned by the prescription subsystem and only read here.
type Patient struct {
	ID        string
	Name      string
	Phone     string
	Location  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Prescription struct {
	ID        string
	PatientID string
	Schedules []Schedule
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Schedule struct {
	DrugName     string
	Dosage       float64
	Frequency    int
	Duration     int
	DurationUnit string
}

func (p *Prescription) DrugNames() []string {
	names := make([]string, 0, len(p.Schedules))
	for _, s := range p.Schedules {
		names = append(names, s.DrugName)
	}
	return names
}
