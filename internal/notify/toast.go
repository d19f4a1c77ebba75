// Package notify turns errors and notices into user-facing toasts.
package notify

import (
	"errors"

	"github.com/tiger/mari-voice/internal/capture"
	"github.com/tiger/mari-voice/internal/recording"
	"github.com/tiger/mari-voice/internal/submission"
)

// Variant selects how loudly a toast is shown.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Toast is one short user-facing message.
type Toast struct {
	Title       string
	Description string
	Variant     Variant
}

// Canned toasts for non-error outcomes.
var (
	ReplyWithoutAudio = Toast{
		Title:       "Resposta recebida",
		Description: "A IA processou seu áudio, mas não retornou áudio de resposta.",
		Variant:     VariantDefault,
	}
	LoggedOut = Toast{
		Title:       "Logout realizado",
		Description: "Você foi desconectado com sucesso!",
		Variant:     VariantDefault,
	}
	LoggedIn = Toast{
		Title:       "Login realizado",
		Description: "Bem-vindo(a) de volta!",
		Variant:     VariantDefault,
	}
)

// UserFacing is implemented by errors that carry their own Portuguese copy.
type UserFacing interface {
	ToastTitle() string
	UserMessage() string
}

// ToastFor maps err to the toast shown in the audio chat.
func ToastFor(err error) Toast {
	var (
		accessErr    *capture.DeviceAccessError
		transportErr *submission.TransportError
		statusErr    *submission.StatusError
		formatErr    *submission.ResponseFormatError
		userFacing   UserFacing
	)
	switch {
	case err == nil:
		return Toast{}
	case errors.Is(err, recording.ErrEmptyRecording):
		return Toast{Title: "Nada foi gravado", Description: "Fale algo antes de parar a gravação.", Variant: VariantDefault}
	case errors.Is(err, recording.ErrBusy):
		return Toast{Title: "Aguarde", Description: "A Mari ainda está respondendo.", Variant: VariantDefault}
	case errors.Is(err, recording.ErrAlreadyRecording):
		return Toast{Title: "Gravação em andamento", Description: "Pare a gravação atual antes de começar outra.", Variant: VariantDefault}
	case errors.As(err, &accessErr):
		return Toast{Title: "Erro ao acessar o microfone", Description: deviceDescription(accessErr.Kind), Variant: VariantDestructive}
	case errors.As(err, &transportErr), errors.As(err, &statusErr), errors.As(err, &formatErr):
		return Toast{Title: "Erro ao enviar áudio", Description: "Tente novamente mais tarde.", Variant: VariantDestructive}
	case errors.As(err, &userFacing):
		return Toast{Title: userFacing.ToastTitle(), Description: userFacing.UserMessage(), Variant: VariantDestructive}
	default:
		return Toast{Title: "Erro inesperado", Description: "Tente novamente mais tarde.", Variant: VariantDestructive}
	}
}

// MessageToastFor maps err to the toast shown in the text chat.
func MessageToastFor(err error) Toast {
	toast := ToastFor(err)
	if toast.Title == "Erro ao enviar áudio" {
		toast.Title = "Erro ao enviar mensagem"
		toast.Description = "Sua mensagem foi mantida. Tente novamente."
	}
	return toast
}

func deviceDescription(kind capture.ErrorKind) string {
	switch kind {
	case capture.KindNotFound:
		return "Nenhum microfone foi encontrado."
	case capture.KindInUse:
		return "O microfone está sendo usado por outro aplicativo."
	default:
		return "Verifique as permissões de áudio."
	}
}
