package cli

import "quiz-duel-service/internal/domain"

func sampleQuestions() []domain.Question {
	q := func(id string, difficulty domain.Difficulty, prompt, correct string, options ...string) domain.Question {
		return domain.Question{
			ID:            id,
			Subject:       "general",
			Category:      domain.CategoryQuiz,
			Difficulty:    difficulty,
			Prompt:        prompt,
			Options:       options,
			CorrectOption: correct,
		}
	}
	return []domain.Question{
		q("g-easy-1", domain.DifficultyEasy, "What is 2 + 2?", "B", "3", "4", "5", "22"),
		q("g-easy-2", domain.DifficultyEasy, "Which planet is closest to the sun?", "A", "Mercury", "Venus", "Mars", "Earth"),
		q("g-easy-3", domain.DifficultyEasy, "How many days are in a leap year?", "C", "364", "365", "366", "367"),
		q("g-medium-1", domain.DifficultyMedium, "What is the chemical symbol for gold?", "D", "Go", "Gd", "Ag", "Au"),
		q("g-medium-2", domain.DifficultyMedium, "What is 12 x 12?", "A", "144", "124", "142", "132"),
		q("g-medium-3", domain.DifficultyMedium, "Which ocean is the largest?", "C", "Atlantic", "Indian", "Pacific", "Arctic"),
		q("g-hard-1", domain.DifficultyHard, "What is the square root of 289?", "B", "16", "17", "18", "19"),
		q("g-hard-2", domain.DifficultyHard, "In which year did the Berlin Wall fall?", "D", "1987", "1988", "1991", "1989"),
		q("g-hard-3", domain.DifficultyHard, "Which element has atomic number 26?", "A", "Iron", "Cobalt", "Nickel", "Copper"),
	}
}
