package load

import "fmt"

// DatabaseError wraps any failure while running DDL or DML against the warehouse.
type DatabaseError struct {
	Operation string
	Table     string
	Err       error
}

func (e *DatabaseError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("database error during %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func dbError(operation, table string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Operation: operation, Table: table, Err: err}
}
