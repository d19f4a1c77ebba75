package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/tiger/mari-voice/providers/auth/supabase"
)

const maxPhoneDigits = 11

// Genders accepted by the signup form.
var Genders = []string{"masculino", "feminino", "outro", "prefiro-nao-informar"}

// RegistrationForm is the signup form as typed by the user.
type RegistrationForm struct {
	Email       string `validate:"required,email"`
	Password    string `validate:"required,min=6"`
	Name        string `validate:"required"`
	Phone       string `validate:"required,phone_br"`
	Gender      string `validate:"required,oneof=masculino feminino outro prefiro-nao-informar"`
	BirthDate   string `validate:"required,datetime=2006-01-02"`
	State       string `validate:"required"`
	City        string `validate:"required"`
	AcceptTerms bool   `validate:"eq=true"`
	AcceptBeta  bool   `validate:"eq=true"`
}

// ValidationError is a rejected form with its Portuguese toast copy.
type ValidationError struct {
	Title       string
	Description string
	Field       string
	Err         error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid registration field %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error       { return e.Err }
func (e *ValidationError) ToastTitle() string  { return e.Title }
func (e *ValidationError) UserMessage() string { return e.Description }

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("phone_br", func(fl validator.FieldLevel) bool {
		n := len(PhoneDigits(fl.Field().String()))
		return n >= 10 && n <= maxPhoneDigits
	})
	return v
}

// Normalize trims every field, formats the phone and validates the form.
func (f RegistrationForm) Normalize() (supabase.Registration, error) {
	f.Email = strings.TrimSpace(f.Email)
	f.Name = strings.TrimSpace(f.Name)
	f.Phone = FormatPhone(strings.TrimSpace(f.Phone))
	f.Gender = strings.ToLower(strings.TrimSpace(f.Gender))
	f.BirthDate = strings.TrimSpace(f.BirthDate)
	f.State = strings.TrimSpace(f.State)
	f.City = strings.TrimSpace(f.City)

	if err := formValidator.Struct(f); err != nil {
		return supabase.Registration{}, translate(err)
	}
	return supabase.Registration{
		Email:     f.Email,
		Password:  f.Password,
		Name:      f.Name,
		Phone:     f.Phone,
		Gender:    f.Gender,
		BirthDate: f.BirthDate,
		State:     f.State,
		City:      f.City,
	}, nil
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	first := fieldErrs[0]
	verr := &ValidationError{Field: first.Field(), Err: err}
	switch {
	case first.Tag() == "required":
		verr.Title, verr.Description = "Campos obrigatórios", "Por favor, preencha todos os campos."
	case first.Field() == "AcceptTerms":
		verr.Title, verr.Description = "Aceite os termos", "É necessário aceitar os termos para continuar."
	case first.Field() == "AcceptBeta":
		verr.Title, verr.Description = "Aceite os termos da versão beta", "É necessário estar ciente de que esta é uma versão beta."
	case first.Field() == "Email":
		verr.Title, verr.Description = "Email inválido", "Informe um endereço de email válido."
	case first.Field() == "Password":
		verr.Title, verr.Description = "Senha muito curta", "A senha precisa ter pelo menos 6 caracteres."
	case first.Field() == "Phone":
		verr.Title, verr.Description = "Telefone inválido", "Informe o DDD e o número, com até 11 dígitos."
	case first.Field() == "Gender":
		verr.Title, verr.Description = "Gênero inválido", "Escolha masculino, feminino, outro ou prefiro-nao-informar."
	case first.Field() == "BirthDate":
		verr.Title, verr.Description = "Data de nascimento inválida", "Use o formato AAAA-MM-DD."
	default:
		verr.Title, verr.Description = "Erro no cadastro", "Não foi possível realizar o cadastro. Tente novamente."
	}
	return verr
}

// PhoneDigits strips everything but digits.
func PhoneDigits(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r <= unicode.MaxASCII {
			return r
		}
		return -1
	}, value)
}

// FormatPhone masks an 11-digit number as (DD) DDDDD-DDDD. Shorter input
// is returned as bare digits; longer input is returned unchanged.
func FormatPhone(value string) string {
	digits := PhoneDigits(value)
	if len(digits) > maxPhoneDigits {
		return value
	}
	if len(digits) == maxPhoneDigits {
		return fmt.Sprintf("(%s) %s-%s", digits[:2], digits[2:7], digits[7:])
	}
	return digits
}
