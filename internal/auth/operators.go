package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrOperatorExists   = errors.New("operator already exists")
	ErrBadCredentials   = errors.New("bad credentials")
)

// Operator учётная запись оператора API
type Operator struct {
	Name         string
	PasswordHash string // bcrypt
	ReadOnly     bool
}

// OperatorStore потокобезопасный реестр операторов в памяти; имена без
// учёта регистра
type OperatorStore struct {
	mu        sync.RWMutex
	operators map[string]*Operator
}

func NewOperatorStore() *OperatorStore {
	return &OperatorStore{operators: make(map[string]*Operator)}
}

// Add регистрирует оператора с готовым bcrypt-хешем
func (s *OperatorStore) Add(name, passwordHash string, readOnly bool) (*Operator, error) {
	key := strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.operators[key]; exists {
		return nil, ErrOperatorExists
	}
	op := &Operator{Name: name, PasswordHash: passwordHash, ReadOnly: readOnly}
	s.operators[key] = op
	return op, nil
}

func (s *OperatorStore) Get(name string) (*Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[strings.ToLower(name)]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	return op, nil
}

func (s *OperatorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.operators)
}

// Authenticate проверяет пароль оператора. Неизвестное имя и неверный
// пароль неразличимы для вызывающего.
func (s *OperatorStore) Authenticate(name, password string) (*Operator, error) {
	op, err := s.Get(name)
	if err != nil {
		return nil, ErrBadCredentials
	}
	if !CheckPassword(op.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return op, nil
}

// HashPassword возвращает bcrypt-хеш пароля с DefaultCost
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword сравнивает bcrypt-хеш с паролем
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
