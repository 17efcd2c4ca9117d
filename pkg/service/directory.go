package service

import (
	"context"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
)

// DirectoryService registers the members and events the notification rules
// read their dates from.
type DirectoryService struct {
	store  storage.Store
	logger Logger
}

func NewDirectoryService(store storage.Store, logger Logger) *DirectoryService {
	return &DirectoryService{store: store, logger: logger}
}

// AddMember validates and stores a member. Date fields are kept as calendar days.
func (d *DirectoryService) AddMember(ctx context.Context, m models.Member) (models.Member, error) {
	m.FirstName = strings.TrimSpace(m.FirstName)
	m.LastName = strings.TrimSpace(m.LastName)
	m.Email = strings.TrimSpace(m.Email)
	m.Phone = strings.TrimSpace(m.Phone)
	if err := validateStruct(m); err != nil {
		return models.Member{}, err
	}
	m.Birthday = dateOnlyPtr(m.Birthday)
	m.AnniversaryDate = dateOnlyPtr(m.AnniversaryDate)
	m.JoinDate = dateOnlyPtr(m.JoinDate)
	m.FirstVisitDate = dateOnlyPtr(m.FirstVisitDate)
	err := inTx(ctx, d.store, d.logger, func(tx storage.Store) (err error) {
		m.ID, err = tx.SaveMember(m)
		return err
	})
	if err != nil {
		d.logger.Errorf("Failed to add member '%s': %v", m.FullName(), err)
		return models.Member{}, err
	}
	d.logger.Infof("Added member %d (%s)", m.ID, m.FullName())
	return m, nil
}

func (d *DirectoryService) GetMember(id int64) (models.Member, error) {
	m, err := d.store.GetMember(id)
	if err != nil {
		return models.Member{}, errors.Wrapf(err, "get member %d", id)
	}
	return m, nil
}

func (d *DirectoryService) ListMembers() ([]models.Member, error) {
	return d.store.ListMembers()
}

// AddEvent validates and stores an event. Every attendee must be a known member.
func (d *DirectoryService) AddEvent(ctx context.Context, e models.Event) (models.Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if err := validateStruct(e); err != nil {
		return models.Event{}, err
	}
	err := inTx(ctx, d.store, d.logger, func(tx storage.Store) (err error) {
		for _, memberID := range e.Attendees {
			if _, err := tx.GetMember(memberID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return newValidationError("attendees", "member %d does not exist", memberID)
				}
				return err
			}
		}
		e.ID, err = tx.SaveEvent(e)
		return err
	})
	if err != nil {
		d.logger.Errorf("Failed to add event '%s': %v", e.Name, err)
		return models.Event{}, err
	}
	d.logger.Infof("Added event %d (%s) with %d attendee(s)", e.ID, e.Name, len(e.Attendees))
	return e, nil
}

func (d *DirectoryService) ListEvents() ([]models.Event, error) {
	return d.store.ListEvents()
}

func dateOnlyPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := models.DateOnly(*t)
	return &d
}
