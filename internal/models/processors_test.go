package models

import (
	"reflect"
	"testing"
)

func TestCoreProcessorsStampedList(t *testing.T) {
	want := []string{ProcessorTranscription, ProcessorCategorization, ProcessorFinalization}
	if got := CoreProcessors(); !reflect.DeepEqual(got, want) {
		t.Errorf("CoreProcessors = %v, want %v", got, want)
	}
}

func TestSessionProcessorsAppendsFixedTail(t *testing.T) {
	got := SessionProcessors([]string{"MEETING_MINUTES", "RISKS"})
	want := []string{"MEETING_MINUTES", "RISKS", ProcessorFinalCustomPrompt, ProcessorCreateTasks}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SessionProcessors = %v, want %v", got, want)
	}

	if got := SessionProcessors(nil); !reflect.DeepEqual(got, []string{ProcessorFinalCustomPrompt, ProcessorCreateTasks}) {
		t.Errorf("empty custom list = %v", got)
	}
}
