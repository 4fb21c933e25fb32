package search

// fallbackLexicon serves when external sources are unreachable. Mundane,
// locale-neutral phrases a person actually types.
var fallbackLexicon = []string{
	"weather tomorrow",
	"news today",
	"best pizza near me",
	"how to make pancakes",
	"movie showtimes",
	"football scores",
	"currency converter",
	"time in tokyo",
	"easy dinner recipes",
	"traffic update",
	"best laptops 2026",
	"how to tie a tie",
	"translate hello to spanish",
	"calories in a banana",
	"nearest coffee shop",
	"flight status",
	"stock market today",
	"how tall is mount everest",
	"population of canada",
	"best books this year",
	"upcoming movies",
	"how to learn guitar",
	"workout at home",
	"capital of australia",
	"cheap flights",
	"phone comparison",
	"electric cars range",
	"home remedies for cold",
	"top tv shows",
	"bread recipe no yeast",
	"sunset time today",
	"local events this weekend",
	"how do solar panels work",
	"what is inflation",
	"tip calculator",
	"world cup schedule",
	"museum opening hours",
	"train timetable",
	"synonyms for happy",
	"distance to the moon",
}
