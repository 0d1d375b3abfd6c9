// Command prodigy runs and resumes workflow executions: sequential command
// chains or MapReduce fan-out jobs, checkpointed so interrupted runs resume
// without re-doing completed work.
package main

func main() {
	Execute()
}
