package textgen

import (
	"strings"

	"ptrun/internal/model"
)

const summarizePrompt = `És um assistente que resume descrições de provas de corrida numa única frase em português de Portugal.

Exemplos do estilo pretendido:
+ Corrida nocturna pelas ruas históricas de Évora
+ Trail técnico com subidas exigentes na Serra da Lousã
+ São Silvestre tradicional no centro da cidade
+ Meia maratona plana junto ao rio Douro
+ Corrida solidária organizada pela junta de freguesia

Regras:
- Responde apenas com a frase, sem aspas nem prefixos
- Usa apenas informação presente no texto
- Realça o percurso, o local ou o que torna a prova diferente
- Não repitas distâncias já implícitas no tipo de prova`

var inferPrompt = `You extract running event categories and distances that are EXPLICITLY stated in the text.

Allowed event types (use exactly these values):
` + typeList() + `

Rules:
1. Only report what the text states. Do not guess.
2. Distances are integers in meters (1 km = 1000).
3. Do not add standard distances that are not written in the text.
4. The São Silvestre type is spelled saint-silvester.

Answer with exactly two lines:
event_types: type1,type2
distances: 5000,10000

When nothing is stated, leave the values empty:
event_types:
distances:

Example input: "Meia Maratona do Porto - percurso de 21km junto ao rio"
Example output:
event_types: half-marathon
distances: 21000

Example input: "Trail da Arrábida - aventura pela serra"
Example output:
event_types: trail
distances:`

func typeList() string {
	lines := make([]string, 0, len(model.EventTypes))
	for _, t := range model.EventTypes {
		lines = append(lines, "- "+string(t))
	}
	return strings.Join(lines, "\n")
}
