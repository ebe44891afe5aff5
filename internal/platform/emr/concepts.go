package emr

import "github.com/google/uuid"

// Concept and program identifiers of the national HIV-care dictionary.
// The engine filters observations and enrollments by these; the host EMR owns
// the dictionary itself.
var (
	ProgramART = uuid.MustParse("96ec813f-aaf0-45b2-add6-e661d5bf79d6")
	ProgramHIV = uuid.MustParse("dfdc6d40-2f2f-463d-ba90-cc97350441a8")

	ConceptTransferInA    = uuid.MustParse("4b73234a-15db-49a0-b089-c26c239fe90d")
	ConceptTransferInB    = uuid.MustParse("feee14d1-6cd6-4f5d-a3f6-056ed91526e5")
	ConceptTransferredOut = uuid.MustParse("a9431295-2f0b-4a6c-97fb-c9ea54a93dcd")
	ConceptLostToFollowUp = uuid.MustParse("1a9bb747-9a59-468a-9f48-7c49a2f05b01")
	ConceptDied           = uuid.MustParse("0227eb41-10f4-4d6a-8cdc-7b0e350099db")

	ConceptCD4Count          = uuid.MustParse("337e25e9-3eb6-4d1e-9c37-6f9ba74b3ebd")
	ConceptPerformanceScaleA = uuid.MustParse("e8a480a7-1f05-402c-9adf-9acbd6ff446f")
	ConceptPerformanceScaleB = uuid.MustParse("585dcf92-c42f-42af-ac44-fdd2fb66ae3a")
	ConceptPerformanceScaleC = uuid.MustParse("a70cd549-aa63-4310-9a38-715dfc3ebbd2")
)

// TransferInConcepts are the coded values that mark a transfer-in observation.
func TransferInConcepts() []uuid.UUID {
	return []uuid.UUID{ConceptTransferInA, ConceptTransferInB}
}

// OutcomeConcepts are the coded values that explain a program exit: died,
// lost to follow-up, transferred out. Used when attributing a program
// completion to "stopped" versus an earlier-dated outcome.
func OutcomeConcepts() []uuid.UUID {
	return []uuid.UUID{ConceptDied, ConceptLostToFollowUp, ConceptTransferredOut}
}
