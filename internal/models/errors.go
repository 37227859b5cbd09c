package models

import "errors"

// Ошибки ядра анализа. Вызывающий код сравнивает их через errors.Is.
var (
	// ErrInvalidInput некорректное показание (нет времени, нечисловая температура)
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientData недостаточно данных для обучения модели
	ErrInsufficientData = errors.New("insufficient data")
	// ErrModelNotFitted модель запрошена до первого обучения
	ErrModelNotFitted = errors.New("model not fitted")
)
