package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyDBError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
}

func TestClassifyDBError_RecordNotFound(t *testing.T) {
	dbErr := ClassifyDBError(gorm.ErrRecordNotFound)
	assert.Equal(t, ErrorTypeNotFound, dbErr.Type)
	assert.Equal(t, "record not found", dbErr.Message)
}

func TestClassifyDBError_WrappedRecordNotFound(t *testing.T) {
	wrapped := fmt.Errorf("failed to load alert: %w", gorm.ErrRecordNotFound)
	dbErr := ClassifyDBError(wrapped)
	assert.Equal(t, ErrorTypeNotFound, dbErr.Type)
}

func TestClassifyDBError_DuplicateKey(t *testing.T) {
	mysqlErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'alert-1' for key 'uk_alert'"}
	dbErr := ClassifyDBError(mysqlErr)
	assert.Equal(t, ErrorTypeDuplicateKey, dbErr.Type)
	assert.Equal(t, uint16(1062), dbErr.MySQLErrCode)
}

func TestClassifyDBError_Deadlock(t *testing.T) {
	mysqlErr := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	dbErr := ClassifyDBError(mysqlErr)
	assert.Equal(t, ErrorTypeDeadlock, dbErr.Type)
}

func TestClassifyDBError_ForeignKey(t *testing.T) {
	for _, code := range []uint16{1451, 1452} {
		mysqlErr := &mysql.MySQLError{Number: code}
		dbErr := ClassifyDBError(mysqlErr)
		assert.Equal(t, ErrorTypeConstraintViolation, dbErr.Type, "code %d", code)
	}
}

func TestClassifyDBError_ConnectionError(t *testing.T) {
	err := errors.New("dial tcp 127.0.0.1:3306: connection refused")
	dbErr := ClassifyDBError(err)
	assert.Equal(t, ErrorTypeConnectionError, dbErr.Type)
}

func TestClassifyDBError_Unknown(t *testing.T) {
	err := errors.New("something unexpected")
	dbErr := ClassifyDBError(err)
	assert.Equal(t, ErrorTypeUnknown, dbErr.Type)
}

func TestDatabaseError_ErrorFormat(t *testing.T) {
	mysqlErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	dbErr := ClassifyDBError(mysqlErr)
	assert.Contains(t, dbErr.Error(), "MySQL error 1062")
}

func TestDatabaseError_Unwrap(t *testing.T) {
	wrapped := fmt.Errorf("create window: %w", gorm.ErrRecordNotFound)
	dbErr := ClassifyDBError(wrapped)
	assert.True(t, errors.Is(dbErr, gorm.ErrRecordNotFound))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, IsDuplicateKey(nil))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
	assert.True(t, IsDuplicateKey(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicateKey(fmt.Errorf("insert alert: %w", &mysql.MySQLError{Number: 1062})))
}
