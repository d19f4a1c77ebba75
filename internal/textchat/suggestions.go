package textchat

// SuggestedQuestions are the welcome carousel rows.
var SuggestedQuestions = [][]string{
	{
		"Como fazer a IA aprender com o passar do tempo?",
		"Quais são as melhores práticas de produtividade?",
		"Como economizar tempo nas tarefas diárias?",
		"Dicas para melhorar o trabalho remoto",
		"Sugestões para organizar minha agenda",
		"Como otimizar meu fluxo de trabalho?",
	},
	{
		"Como escrever e-mails mais eficientes?",
		"Ideias para reuniões mais produtivas",
		"Dicas para melhorar minha concentração",
		"Como gerenciar projetos complexos?",
		"Técnicas de brainstorming eficazes",
		"Como automatizar tarefas repetitivas?",
	},
	{
		"Como usar a IA para criar conteúdo?",
		"Dicas para uma boa saúde mental no trabalho",
		"Como evitar procrastinação?",
		"Ferramentas para organização de tarefas",
		"Como implementar a metodologia GTD?",
		"Dicas para estudar de forma eficiente",
	},
}

// Suggestion returns the n-th question counting row by row from 1.
func Suggestion(n int) (string, bool) {
	if n < 1 {
		return "", false
	}
	n--
	for _, row := range SuggestedQuestions {
		if n < len(row) {
			return row[n], true
		}
		n -= len(row)
	}
	return "", false
}
