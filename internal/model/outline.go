package model

type TopicType string

const (
	TopicCore       TopicType = "CORE"
	TopicSupporting TopicType = "SUPPORTING"
)

// QuestionCount 每种主题类型的测验题数
func (t TopicType) QuestionCount() int {
	if t == TopicCore {
		return 3
	}
	return 1
}

// RequiredCorrect 通过主题测验所需的最少答对题数
func (t TopicType) RequiredCorrect() int {
	if t == TopicCore {
		return 2
	}
	return 1
}

// Outline AI从课件中抽取的两级知识大纲
type Outline struct {
	Topics []OutlineTopic `json:"topics"`
}

type OutlineTopic struct {
	Title     string            `json:"title"`
	Type      TopicType         `json:"type"`
	Subtopics []OutlineSubtopic `json:"subtopics"`
}

type OutlineSubtopic struct {
	Title string `json:"title"`
}
