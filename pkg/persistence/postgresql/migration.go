package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(128) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_is_active ON workflows(is_active);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id VARCHAR(128) PRIMARY KEY,
				workflow_id VARCHAR(128) NOT NULL,
				contact_id VARCHAR(255) NOT NULL DEFAULT '',
				company_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				next_execution_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_contact_id ON workflow_executions(contact_id);
			CREATE INDEX idx_workflow_executions_due ON workflow_executions(next_execution_at) WHERE status = 'waiting';
		`,
	}
}
