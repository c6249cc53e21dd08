package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errUnknownKind     = errors.New("unknown entity kind")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "records.service.new"
	opList       = "records.list"
	opExists     = "records.exists"
	opInsert     = "records.insert"
	opUpdate     = "records.update"
	opDelete     = "records.delete"

	fieldUserID   = "user_id"
	fieldRecordID = "record_id"
	fieldTable    = "table"

	queryUserID   = "user_id = ?"
	queryID       = "id = ?"
	queryIDUser   = "id = ? AND user_id = ?"
	queryUserInID = "user_id = ? AND id IN ?"

	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"
	reasonInvalidRow      = "invalid_row"
	reasonDuplicateID     = "duplicate_id"
	reasonInsertFailed    = "insert_failed"
	reasonNotFound        = "not_found"
	reasonInvalidUpdate   = "invalid_update"
	reasonUpdateFailed    = "update_failed"
	reasonCascadeFailed   = "cascade_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonUnknownKind     = "unknown_kind"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service persists the per-user remote copies of locations, beehives and recordings.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		logger: logger,
	}, nil
}

type columnNormalizer func(value any) (any, error)

// Table scopes reads and writes to one remote table.
type Table[R Row[R]] struct {
	service *Service
	kind    apiary.EntityKind
	columns map[string]columnNormalizer
}

// Locations returns the locations table.
func (s *Service) Locations() *Table[LocationRow] {
	return &Table[LocationRow]{
		service: s,
		kind:    apiary.KindLocation,
		columns: map[string]columnNormalizer{"name": normalizeNameColumn},
	}
}

// Beehives returns the beehives table.
func (s *Service) Beehives() *Table[BeehiveRow] {
	return &Table[BeehiveRow]{
		service: s,
		kind:    apiary.KindBeehive,
		columns: map[string]columnNormalizer{
			"name":        normalizeNameColumn,
			"location_id": normalizeIdentifierColumn,
		},
	}
}

// Recordings returns the recordings table. Only the priority is mutable remotely.
func (s *Service) Recordings() *Table[RecordingRow] {
	return &Table[RecordingRow]{
		service: s,
		kind:    apiary.KindRecording,
		columns: map[string]columnNormalizer{"priority": normalizePriorityColumn},
	}
}

// Kind returns the entity kind stored in the table.
func (t *Table[R]) Kind() apiary.EntityKind {
	return t.kind
}

// List returns every row owned by userID.
func (t *Table[R]) List(ctx context.Context, userID UserID) ([]R, error) {
	if t.service == nil || t.service.db == nil {
		t.service.logError(opList, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opList, reasonMissingDatabase, errMissingDatabase)
	}

	rows := make([]R, 0)
	if err := t.service.db.WithContext(ctx).
		Where(queryUserID, userID.String()).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		t.service.logError(opList, reasonQueryFailed, err,
			zap.String(fieldTable, t.kind.Table()),
			zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}
	return rows, nil
}

// Exists reports whether any owner holds a row with the identifier.
func (t *Table[R]) Exists(ctx context.Context, id RecordID) (bool, error) {
	if t.service == nil || t.service.db == nil {
		t.service.logError(opExists, reasonMissingDatabase, errMissingDatabase)
		return false, newServiceError(opExists, reasonMissingDatabase, errMissingDatabase)
	}

	var count int64
	if err := t.service.db.WithContext(ctx).
		Model(new(R)).
		Where(queryID, id.String()).
		Count(&count).Error; err != nil {
		t.service.logError(opExists, reasonQueryFailed, err,
			zap.String(fieldTable, t.kind.Table()),
			zap.String(fieldRecordID, id.String()))
		return false, newServiceError(opExists, reasonQueryFailed, err)
	}
	return count > 0, nil
}

// Insert stores row under userID. Identifiers are unique across owners.
func (t *Table[R]) Insert(ctx context.Context, userID UserID, row R) (R, error) {
	var zero R
	if t.service == nil || t.service.db == nil {
		t.service.logError(opInsert, reasonMissingDatabase, errMissingDatabase)
		return zero, newServiceError(opInsert, reasonMissingDatabase, errMissingDatabase)
	}

	recordID, err := NewRecordID(row.RowID())
	if err != nil {
		return zero, newServiceError(opInsert, reasonInvalidRow, err)
	}
	if err := row.Validate(); err != nil {
		return zero, newServiceError(opInsert, reasonInvalidRow, err)
	}
	owned := row.Owned(userID.String())

	transactionError := t.service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var count int64
		if err := transaction.Model(new(R)).Where(queryID, recordID.String()).Count(&count).Error; err != nil {
			t.service.logError(opInsert, reasonQueryFailed, err,
				zap.String(fieldTable, t.kind.Table()),
				zap.String(fieldRecordID, recordID.String()))
			return newServiceError(opInsert, reasonQueryFailed, err)
		}
		if count > 0 {
			return newServiceError(opInsert, reasonDuplicateID, ErrDuplicateID)
		}
		if err := transaction.Create(&owned).Error; err != nil {
			t.service.logError(opInsert, reasonInsertFailed, err,
				zap.String(fieldTable, t.kind.Table()),
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldRecordID, recordID.String()))
			return newServiceError(opInsert, reasonInsertFailed, err)
		}
		return nil
	})
	if transactionError != nil {
		return zero, transactionError
	}
	return owned, nil
}

// Update changes the permitted columns of a row owned by userID.
func (t *Table[R]) Update(ctx context.Context, userID UserID, id RecordID, fields map[string]any) (R, error) {
	var zero R
	if t.service == nil || t.service.db == nil {
		t.service.logError(opUpdate, reasonMissingDatabase, errMissingDatabase)
		return zero, newServiceError(opUpdate, reasonMissingDatabase, errMissingDatabase)
	}

	normalized, err := t.normalizeFields(fields)
	if err != nil {
		return zero, newServiceError(opUpdate, reasonInvalidUpdate, err)
	}

	var updated R
	transactionError := t.service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var existing R
		err := transaction.Where(queryIDUser, id.String(), userID.String()).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdate, reasonNotFound, ErrRowNotFound)
		}
		if err != nil {
			t.service.logError(opUpdate, reasonQueryFailed, err,
				zap.String(fieldTable, t.kind.Table()),
				zap.String(fieldRecordID, id.String()))
			return newServiceError(opUpdate, reasonQueryFailed, err)
		}
		if err := transaction.Model(new(R)).
			Where(queryIDUser, id.String(), userID.String()).
			Updates(normalized).Error; err != nil {
			t.service.logError(opUpdate, reasonUpdateFailed, err,
				zap.String(fieldTable, t.kind.Table()),
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldRecordID, id.String()))
			return newServiceError(opUpdate, reasonUpdateFailed, err)
		}
		return transaction.Where(queryIDUser, id.String(), userID.String()).Take(&updated).Error
	})
	if transactionError != nil {
		return zero, transactionError
	}
	return updated, nil
}

func (t *Table[R]) normalizeFields(fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidUpdate)
	}
	normalized := make(map[string]any, len(fields))
	for column, value := range fields {
		normalize, allowed := t.columns[column]
		if !allowed {
			return nil, fmt.Errorf("%w: column %s is not updatable on %s", ErrInvalidUpdate, column, t.kind.Table())
		}
		cleaned, err := normalize(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUpdate, column, err)
		}
		normalized[column] = cleaned
	}
	return normalized, nil
}

// Delete removes the row and, following the cascade rules, every dependent row of the same owner.
func (s *Service) Delete(ctx context.Context, kind apiary.EntityKind, userID UserID, id RecordID) (apiary.DeletionSet, error) {
	if s == nil || s.db == nil {
		s.logError(opDelete, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opDelete, reasonMissingDatabase, errMissingDatabase)
	}
	rootModel, ok := modelFor(kind)
	if !ok {
		return nil, newServiceError(opDelete, reasonUnknownKind, errUnknownKind)
	}

	var deleted apiary.DeletionSet
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var count int64
		if err := transaction.Model(rootModel).Where(queryIDUser, id.String(), userID.String()).Count(&count).Error; err != nil {
			s.logError(opDelete, reasonQueryFailed, err,
				zap.String(fieldTable, kind.Table()),
				zap.String(fieldRecordID, id.String()))
			return newServiceError(opDelete, reasonQueryFailed, err)
		}
		if count == 0 {
			return newServiceError(opDelete, reasonNotFound, ErrRowNotFound)
		}

		set, err := apiary.Cascade(kind, id.String(), func(rule apiary.CascadeRule, parentIDs []string) ([]string, error) {
			dependentModel, _ := modelFor(rule.Dependent)
			var childIDs []string
			err := transaction.Model(dependentModel).
				Where(fieldUserID+" = ? AND "+rule.Column+" IN ?", userID.String(), parentIDs).
				Pluck("id", &childIDs).Error
			return childIDs, err
		})
		if err != nil {
			s.logError(opDelete, reasonCascadeFailed, err,
				zap.String(fieldTable, kind.Table()),
				zap.String(fieldRecordID, id.String()))
			return newServiceError(opDelete, reasonCascadeFailed, err)
		}

		for _, dependentKind := range []apiary.EntityKind{apiary.KindRecording, apiary.KindBeehive, apiary.KindLocation} {
			ids := set[dependentKind]
			if len(ids) == 0 {
				continue
			}
			model, _ := modelFor(dependentKind)
			if err := transaction.Where(queryUserInID, userID.String(), ids).Delete(model).Error; err != nil {
				s.logError(opDelete, reasonDeleteFailed, err,
					zap.String(fieldTable, dependentKind.Table()),
					zap.String(fieldUserID, userID.String()))
				return newServiceError(opDelete, reasonDeleteFailed, err)
			}
		}
		deleted = set
		return nil
	})
	if transactionError != nil {
		return nil, transactionError
	}
	return deleted, nil
}

func modelFor(kind apiary.EntityKind) (any, bool) {
	switch kind {
	case apiary.KindLocation:
		return &LocationRow{}, true
	case apiary.KindBeehive:
		return &BeehiveRow{}, true
	case apiary.KindRecording:
		return &RecordingRow{}, true
	default:
		return nil, false
	}
}

func normalizeNameColumn(value any) (any, error) {
	raw, ok := value.(string)
	if !ok {
		return nil, errors.New("expected string")
	}
	return apiary.NormalizeName(raw)
}

func normalizeIdentifierColumn(value any) (any, error) {
	raw, ok := value.(string)
	if !ok {
		return nil, errors.New("expected string")
	}
	id, err := NewRecordID(raw)
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

func normalizePriorityColumn(value any) (any, error) {
	raw, ok := value.(string)
	if !ok {
		return nil, errors.New("expected string")
	}
	priority, err := apiary.ParsePriority(raw)
	if err != nil {
		return nil, err
	}
	return priority.String(), nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("records service error", attrs...)
}

// Reason extracts the trailing reason segment of a ServiceError code.
func Reason(err error) string {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		return ""
	}
	code := serviceErr.Code()
	if index := strings.LastIndex(code, "."); index >= 0 {
		return code[index+1:]
	}
	return code
}
