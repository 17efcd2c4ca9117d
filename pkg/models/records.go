package models

import "time"

// The records below are flat CRUD entities owned by the admin console. The core
// reads them as lookup lists and never mutates them.

type Donation struct {
	ID       int64     `json:"id"`
	MemberID *int64    `json:"member_id,omitempty"` // Nil for anonymous gifts
	Amount   float64   `json:"amount" validate:"gt=0"`
	Fund     string    `json:"fund" validate:"required"` // e.g. "Tithe", "Building"
	Method   string    `json:"method,omitempty"`         // e.g. "Cash", "Transfer"
	Date     time.Time `json:"date"`
	BranchID *int64    `json:"branch_id,omitempty"`
}

type Expense struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category" validate:"required"`
	Description string    `json:"description,omitempty"`
	Amount      float64   `json:"amount" validate:"gt=0"`
	Date        time.Time `json:"date"`
	ApprovedBy  string    `json:"approved_by,omitempty"`
	BranchID    *int64    `json:"branch_id,omitempty"`
}

type Equipment struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name" validate:"required"`
	Category     string     `json:"category,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Condition    string     `json:"condition,omitempty"` // e.g. "Good", "Needs Repair"
	Location     string     `json:"location,omitempty"`
	PurchasedAt  *time.Time `json:"purchased_at,omitempty"`
}

type Certificate struct {
	ID       int64     `json:"id"`
	MemberID int64     `json:"member_id" validate:"required"`
	Kind     string    `json:"kind" validate:"required"` // e.g. "Baptism", "Marriage", "Dedication"
	IssuedOn time.Time `json:"issued_on"`
	IssuedBy string    `json:"issued_by,omitempty"`
	Number   string    `json:"number,omitempty"`
}

type Branch struct {
	ID      int64  `json:"id"`
	Name    string `json:"name" validate:"required"`
	Address string `json:"address,omitempty"`
	Pastor  string `json:"pastor,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Remittance is a recorded transfer of funds from a branch to the central church.
type Remittance struct {
	ID        int64     `json:"id"`
	BranchID  int64     `json:"branch_id" validate:"required"`
	Amount    float64   `json:"amount" validate:"gt=0"`
	Period    string    `json:"period" validate:"required"` // e.g. "2024-05"
	Reference string    `json:"reference,omitempty"`
	Date      time.Time `json:"date"`
}

// Record ID accessors used by generic collections.

func (d Donation) RecordID() int64    { return d.ID }
func (e Expense) RecordID() int64     { return e.ID }
func (e Equipment) RecordID() int64   { return e.ID }
func (c Certificate) RecordID() int64 { return c.ID }
func (b Branch) RecordID() int64      { return b.ID }
func (r Remittance) RecordID() int64  { return r.ID }
func (m Member) RecordID() int64      { return m.ID }
func (e Event) RecordID() int64       { return e.ID }

func (d Donation) WithID(id int64) Donation       { d.ID = id; return d }
func (e Expense) WithID(id int64) Expense         { e.ID = id; return e }
func (e Equipment) WithID(id int64) Equipment     { e.ID = id; return e }
func (c Certificate) WithID(id int64) Certificate { c.ID = id; return c }
func (b Branch) WithID(id int64) Branch           { b.ID = id; return b }
func (r Remittance) WithID(id int64) Remittance   { r.ID = id; return r }
