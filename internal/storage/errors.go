package storage

import (
	"errors"
	"fmt"
)

// ErrCorrupt данные региона не прошли проверку заголовка или контрольной суммы
var ErrCorrupt = errors.New("повреждённые данные региона")

// ErrClosed операция над закрытым хранилищем
var ErrClosed = errors.New("хранилище закрыто")

// SerialError ошибка ввода-вывода региона.
// Операция, запросившая регион, прерывается, уже открытые регионы не затрагиваются.
type SerialError struct {
	Op     string
	Region RegionIndex
	Err    error
}

func (e *SerialError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Region, e.Op, e.Err)
}

func (e *SerialError) Unwrap() error {
	return e.Err
}
