package service

import (
	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
)

// Records groups the services of the admin console's flat record types.
type Records struct {
	Donations    *RecordService[models.Donation]
	Expenses     *RecordService[models.Expense]
	Equipment    *RecordService[models.Equipment]
	Certificates *RecordService[models.Certificate]
	Branches     *RecordService[models.Branch]
	Remittances  *RecordService[models.Remittance]
}

// NewMemoryRecords backs every record type with an in-memory collection.
func NewMemoryRecords(logger Logger) Records {
	return Records{
		Donations:    NewRecordService("donation", storage.NewMemoryCollection[models.Donation](), logger),
		Expenses:     NewRecordService("expense", storage.NewMemoryCollection[models.Expense](), logger),
		Equipment:    NewRecordService("equipment", storage.NewMemoryCollection[models.Equipment](), logger),
		Certificates: NewRecordService("certificate", storage.NewMemoryCollection[models.Certificate](), logger),
		Branches:     NewRecordService("branch", storage.NewMemoryCollection[models.Branch](), logger),
		Remittances:  NewRecordService("remittance", storage.NewMemoryCollection[models.Remittance](), logger),
	}
}

// RecordService is the CRUD surface for a flat record type such as donations
// or equipment. It validates input and otherwise defers to the collection.
type RecordService[T storage.Record[T]] struct {
	name   string
	items  storage.Collection[T]
	logger Logger
}

func NewRecordService[T storage.Record[T]](name string, items storage.Collection[T], logger Logger) *RecordService[T] {
	return &RecordService[T]{name: name, items: items, logger: logger}
}

func (rs *RecordService[T]) List() ([]T, error) {
	return rs.items.List()
}

func (rs *RecordService[T]) Get(id int64) (T, error) {
	item, err := rs.items.Get(id)
	if err != nil {
		return item, errors.Wrapf(err, "get %s %d", rs.name, id)
	}
	return item, nil
}

// Create validates item and stores it under a new ID.
func (rs *RecordService[T]) Create(item T) (T, error) {
	if err := validateStruct(item); err != nil {
		var zero T
		return zero, err
	}
	created, err := rs.items.Create(item)
	if err != nil {
		return created, errors.Wrapf(err, "create %s", rs.name)
	}
	rs.logger.Infof("Created %s %d", rs.name, created.RecordID())
	return created, nil
}

// Update validates item and replaces the stored record with the same ID.
func (rs *RecordService[T]) Update(item T) error {
	if item.RecordID() <= 0 {
		return newValidationError("id", "%s ID must be positive", rs.name)
	}
	if err := validateStruct(item); err != nil {
		return err
	}
	if err := rs.items.Update(item); err != nil {
		return errors.Wrapf(err, "update %s %d", rs.name, item.RecordID())
	}
	return nil
}

func (rs *RecordService[T]) Delete(id int64) error {
	if err := rs.items.Delete(id); err != nil {
		return errors.Wrapf(err, "delete %s %d", rs.name, id)
	}
	rs.logger.Infof("Deleted %s %d", rs.name, id)
	return nil
}
