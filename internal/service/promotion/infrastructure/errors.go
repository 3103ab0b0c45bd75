package infrastructure

import (
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrNoReferencedRow = 1452
)

var (
	errDuplicateKey = errors.New("duplicate key")
	errMissingRef   = errors.New("referenced row does not exist")
)

// classify 把驱动错误归一化为 errDuplicateKey / errMissingRef，其它错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errDuplicateKey
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return errMissingRef
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry:
			return errDuplicateKey
		case mysqlErrNoReferencedRow:
			return errMissingRef
		}
	}
	return err
}
