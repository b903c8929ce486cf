package revenue

import "testing"

func TestToSchedulerJobRounding(t *testing.T) {
	j := ExternalJob{
		Coin: "ETC", Algorithm: "ethash", JobID: "abc123",
		HeaderHash: "deadbeef", Difficulty: 1234.6, CleanJobs: true,
	}
	sj := j.toSchedulerJob()
	if sj.Difficulty != 1235 {
		t.Errorf("expected rounded difficulty 1235, got %d", sj.Difficulty)
	}
	if sj.Coin != "ETC" || sj.JobID != "abc123" || !sj.CleanJobs {
		t.Errorf("field passthrough mismatch: %+v", sj)
	}
}

func TestToSchedulerJobClampsNegativeDifficulty(t *testing.T) {
	j := ExternalJob{Coin: "XMR", Difficulty: -5}
	sj := j.toSchedulerJob()
	if sj.Difficulty != 0 {
		t.Errorf("expected clamped difficulty 0, got %d", sj.Difficulty)
	}
}

func TestCompactTargetDifficulty(t *testing.T) {
	if got := compactTargetDifficulty("ffffffff"); got != 1.0 {
		t.Errorf("max target should be difficulty 1, got %v", got)
	}
	if got := compactTargetDifficulty("not-8-chars"); got != 1.0 {
		t.Errorf("malformed target should fall back to 1, got %v", got)
	}
	if got := compactTargetDifficulty("00000000"); got != 1.0 {
		t.Errorf("zero target should fall back to 1, got %v", got)
	}
}
