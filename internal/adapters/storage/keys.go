package storage

import "fmt"

const (
	executionPrefix  = "execution:"
	suspensionPrefix = "suspension:"
	memoryPrefix     = "memory:"
)

func ExecutionKey(executionID string) string {
	return executionPrefix + executionID
}

func SuspensionKey(executionID, nodeID string) string {
	return fmt.Sprintf("%s%s:%s", suspensionPrefix, executionID, nodeID)
}

func ExecutionPrefix() string {
	return executionPrefix
}

func SuspensionPrefix() string {
	return suspensionPrefix
}

func MemoryKey(userID, memoryNodeID string) string {
	return fmt.Sprintf("%s%s:%s", memoryPrefix, userID, memoryNodeID)
}
