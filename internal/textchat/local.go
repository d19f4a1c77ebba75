package textchat

import "strings"

var localReplies = []struct {
	keywords []string
	reply    string
}{
	{
		keywords: []string{"ia", "inteligência artificial"},
		reply:    "A Inteligência Artificial está evoluindo rapidamente. Como assistente, estou aqui para ajudar com suas dúvidas e tarefas. Podemos conversar sobre produtividade, organização, e muitos outros assuntos!",
	},
	{
		keywords: []string{"produtividade", "eficiência"},
		reply:    "Para aumentar sua produtividade, experimente técnicas como Pomodoro (25 minutos de foco, 5 de descanso), defina prioridades claras no início do dia, e elimine distrações durante períodos de trabalho intenso.",
	},
	{
		keywords: []string{"agenda", "organizar"},
		reply:    "Para organizar melhor sua agenda, recomendo bloquear horários específicos para tarefas importantes, usar um sistema de calendário digital com lembretes, e revisar suas prioridades semanalmente.",
	},
}

const localDefaultReply = "Obrigada por sua mensagem! Estou aqui para ajudar com produtividade, organização de tarefas, e uso eficiente de tecnologia. Como posso auxiliar você hoje?"

// LocalReply is the offline canned responder. Keywords match as
// substrings, so "ia" also matches words such as "dia".
func LocalReply(message string) string {
	lower := strings.ToLower(message)
	for _, r := range localReplies {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.reply
			}
		}
	}
	return localDefaultReply
}
