package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				orchestrator VARCHAR(255) NOT NULL,
				input BYTEA NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('created', 'running', 'completed', 'failed', 'cancelled')),
				output BYTEA,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_created_at ON workflow_instances(created_at);

			-- Payloads are BYTEA so replay compares the exact bytes that were scheduled.
			CREATE TABLE history_events (
				instance_id VARCHAR(255) NOT NULL,
				sequence_number BIGINT NOT NULL,
				kind VARCHAR(50) NOT NULL,
				task_id VARCHAR(255),
				activity_name VARCHAR(255),
				payload BYTEA,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (instance_id, sequence_number)
			);
		`,
		2: `
			CREATE TABLE results (
				partition_key VARCHAR(255) NOT NULL,
				row_key VARCHAR(255) NOT NULL,
				fields JSONB NOT NULL DEFAULT '{}',
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (partition_key, row_key)
			);

			CREATE INDEX idx_results_recency ON results(partition_key, timestamp DESC, row_key DESC);
		`,
	}
}
