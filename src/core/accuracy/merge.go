package accuracy

import "time"

// Winner returns the track whose record becomes the item's final result.
// It depends only on which records exist, never on arrival order.
func Winner(t EvaluationType, p MergePolicy, hasAI, hasHuman bool) Track {
	switch t {
	case EvaluationTypeAI:
		if hasAI {
			return TrackAI
		}
	case EvaluationTypeManual:
		if hasHuman {
			return TrackHuman
		}
	case EvaluationTypeHybrid:
		if p == MergeAIAuthoritative {
			if hasAI {
				return TrackAI
			}
			if hasHuman {
				return TrackHuman
			}
			return TrackNone
		}
		if hasHuman {
			return TrackHuman
		}
		if hasAI {
			return TrackAI
		}
	}
	return TrackNone
}

// successStatuses are the item statuses counted as success for the type
func successStatuses(t EvaluationType) []ItemStatus {
	if t == EvaluationTypeAI {
		return []ItemStatus{ItemStatusAICompleted, ItemStatusBothCompleted}
	}
	return []ItemStatus{ItemStatusHumanCompleted, ItemStatusBothCompleted}
}

func isSuccess(t EvaluationType, s ItemStatus) bool {
	for _, ok := range successStatuses(t) {
		if s == ok {
			return true
		}
	}
	return false
}

// tally splits status counts into terminal success and failure for the type
func tally(t EvaluationType, counts ItemCounts) (success, failed int) {
	for status, n := range counts {
		switch {
		case isSuccess(t, status):
			success += n
		case status == ItemStatusFailed:
			failed += n
		}
	}
	return success, failed
}

// deriveStatus computes the item status from the records and errors it holds
func deriveStatus(t EvaluationType, it *Item) ItemStatus {
	hasAI, hasHuman := it.AIScore != nil, it.HumanScore != nil

	var base ItemStatus
	switch {
	case hasAI && hasHuman:
		base = ItemStatusBothCompleted
	case hasAI:
		base = ItemStatusAICompleted
	case hasHuman:
		base = ItemStatusHumanCompleted
	default:
		base = ItemStatusPending
	}

	if isSuccess(t, base) {
		return base
	}
	if it.AIError != "" || it.HumanError != "" {
		return ItemStatusFailed
	}
	return base
}

// applyResult writes one track result into the item and re-merges its final fields
func applyResult(test *Test, it *Item, r ItemResult, now time.Time) {
	at := now
	if r.EvaluatedAt != nil {
		at = *r.EvaluatedAt
	}

	switch r.Track {
	case TrackAI:
		if r.Error != "" {
			it.AIError = r.Error
			it.AIEvaluatedAt = &at
			break
		}
		score := *r.Score
		it.AIScore = &score
		it.AIDimensionScores = r.DimensionScores.clone()
		it.AIReason = r.Reason
		it.AIRawResponse = r.RawResponse
		it.AIEvaluatedAt = &at
		it.AIError = ""
	case TrackHuman:
		if r.Error != "" {
			it.HumanError = r.Error
			it.HumanEvaluatedAt = &at
			break
		}
		score := *r.Score
		it.HumanScore = &score
		it.HumanDimensionScores = r.DimensionScores.clone()
		it.HumanReason = r.Reason
		it.HumanEvaluatorID = r.EvaluatorID
		it.HumanEvaluatedAt = &at
		it.HumanError = ""
	}

	mergeFinal(test, it)
}

// mergeFinal recomputes final fields and status from the stored records
func mergeFinal(test *Test, it *Item) {
	winner := Winner(test.EvaluationType, test.MergePolicy, it.AIScore != nil, it.HumanScore != nil)
	switch winner {
	case TrackAI:
		score := *it.AIScore
		it.FinalScore = &score
		it.FinalDimensionScores = it.AIDimensionScores.clone()
		it.FinalReason = it.AIReason
	case TrackHuman:
		score := *it.HumanScore
		it.FinalScore = &score
		it.FinalDimensionScores = it.HumanDimensionScores.clone()
		it.FinalReason = it.HumanReason
	default:
		it.FinalScore = nil
		it.FinalDimensionScores = nil
		it.FinalReason = ""
	}
	it.FinalEvaluationType = winner
	it.Status = deriveStatus(test.EvaluationType, it)
}
