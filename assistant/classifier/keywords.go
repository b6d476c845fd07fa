// Copyright 2025 StroiNadzor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package classifier

import "regexp"

// imageTriggers are substrings of a lower-cased request that signal an
// explicit image-generation intent. Checked first: a drawing verb wins
// over technical vocabulary because it names what the user wants back.
var imageTriggers = []string{
	"нарисуй",
	"покажи схему",
	"покажи план",
	"покажи как выглядит",
	"сгенерируй",
	"создай изображение",
	"создай картинку",
	"создай фото",
	"как выглядит",
	"визуализируй",
	"сделай рисунок",
	"изобрази",
	"пришли картинку",
	"пришли изображение",
	"пришли фото",
	"отправь картинку",
	"отправь изображение",
	"нужна картинка",
	"нужно изображение",
	"хочу увидеть",
	"хочу картинку",
	"нарисуй схему",
	"нарисуй план",
	"схему колодцев",
	"схему канализации",
	"план расположения",
}

// technicalKeywords cover normative references and engineering calculation
// vocabulary. A match routes to the technical backend.
var technicalKeywords = []string{
	// normative references
	"сп ", "гост", "снип", "санпин", "пуэ",
	"норматив", "норма", "требование", "регламент", "стандарт",
	"по нормам", "согласно", "в соответствии",
	"допускается", "не допускается", "запрещается",
	// calculation vocabulary
	"расчёт", "расчет", "рассчитать", "вычислить", "посчитать",
	"формула", "коэффициент", "нагрузка", "прочность",
	"несущая способность", "армирование", "сечение", "пролёт",
	"момент", "усилие", "напряжение", "деформация", "прогиб",
	"класс бетона", "класс арматуры", "защитный слой",
	"толщина", "диаметр",
	"сколько нужно", "какой размер", "минимальный", "максимальный",
	// documentation and inspection
	"кс-2", "кс-3", "акт", "смета", "ппр",
	"исполнительная документация", "скрытые работы",
	"экспертиза", "обследование", "дефект", "трещина",
}

// technicalPatterns match regulation citations and dimensioned quantities
// that keyword substrings alone would miss.
var technicalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)СП\s*\d+`),
	regexp.MustCompile(`(?i)ГОСТ\s*\d+`),
	regexp.MustCompile(`(?i)СНиП\s*\d+`),
	regexp.MustCompile(`(?i)ФЗ[\-\s]*\d+`),
	regexp.MustCompile(`(?i)КС[\-\s]?\d`),
	regexp.MustCompile(`\d+\s*(мм|см|кг|МПа|кН|м²|м³)`),
	regexp.MustCompile(`[BВ]\d{2}`), // concrete class, latin or cyrillic B
	regexp.MustCompile(`[AА]\d{3}`), // rebar class
}

// freshnessTriggers signal that the answer depends on current information
// and the request should go out with live web search enabled.
var freshnessTriggers = []string{
	"актуальн",
	"новый",
	"новая",
	"свежий",
	"последн",
	"изменени",
	"обновлен",
	"действует",
	"отменен",
	"проверь",
	"найди",
	"поищи",
	"2025",
	"2026",
	"2027",
}

// regulationCodePatterns extract citations like "СП 63.13330.2018" or
// "ФЗ-384" from free text, used to scope retrieval to the right collection.
// The document number is captured separately so spacing variants canonicalize
// to one citation.
var regulationCodePatterns = []struct {
	canon string
	re    *regexp.Regexp
}{
	{"СП", regexp.MustCompile(`(?i)СП\s*(\d+(?:\.\d+)*)`)},
	{"ГОСТ", regexp.MustCompile(`(?i)ГОСТ\s*(\d+(?:\.\d+)*(?:-\d{2,4})?)`)},
	{"СНиП", regexp.MustCompile(`(?i)СНиП\s*(\d+(?:\.\d+)*(?:-\d{2,4})?)`)},
	{"ФЗ", regexp.MustCompile(`(?i)ФЗ[\-\s]*№?\s*(\d+)`)},
}
