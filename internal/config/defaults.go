package config

import "voice-ledger-go/internal/types"

// DefaultCategories is the keyword table used when pipeline.yaml does not
// supply one.
func DefaultCategories() types.RuleTable {
	return types.RuleTable{
		{Name: "Agendamento de consulta", Keywords: []string{"agendar", "marcar", "consulta", "horário", "disponibilidade"}},
		{Name: "Reagendamento ou cancelamento", Keywords: []string{"remarcar", "cancelar", "desmarcar", "adiar", "mudança"}},
		{Name: "Dúvidas sobre cirurgia", Keywords: []string{"cirurgia", "risco", "preparo", "procedimento", "pré-operatório"}},
		{Name: "Encaminhamento para WhatsApp", Keywords: []string{"whatsapp", "link", "mensagem", "zap", "número"}},
		{Name: "Solicitação de atestado", Keywords: []string{"atestado", "documento", "declaração", "comprovante"}},
		{Name: "Retorno pós-operatório", Keywords: []string{"retorno", "pós", "avaliação", "pós-operatório", "acompanhamento"}},
		{Name: "Cobranças e valores", Keywords: []string{"valor", "preço", "pagamento", "custo", "orçamento", "parcela"}},
		{Name: "Ligação indevida/sem resposta", Keywords: []string{"alô", "barulho", "nada", "silêncio", "ruído"}},
		{Name: "Reclamação", Keywords: []string{"reclamação", "insatisfação", "problema", "queixa", "insatisfeito", "reclamar"}},
	}
}

// DefaultOperators maps extension codes to the attendant answering them.
func DefaultOperators() map[string]string {
	return map[string]string{
		"bioc5318": "Joelma",
		"bioc5319": "Joelma",
		"bioc5316": "Bia",
		"bioc5310": "Lucas",
		"bioc5311": "Ana Rafaela",
		"bioc5313": "Júlio",
		"bioc5315": "Lucila",
	}
}
