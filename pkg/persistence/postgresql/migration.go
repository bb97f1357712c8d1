package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Campaign definitions. The node graph is immutable once the
			-- campaign starts, so nodes and connections live in JSONB columns
			-- rather than normalized tables.
			CREATE TABLE campaigns (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				connections JSONB NOT NULL DEFAULT '[]',
				start_node VARCHAR(255) NOT NULL,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_campaigns_status ON campaigns(status);
			CREATE INDEX idx_campaigns_created_at ON campaigns(created_at);

			-- Per-lead execution state. The version column backs the
			-- optimistic save check.
			CREATE TABLE leads (
				id VARCHAR(255) PRIMARY KEY,
				campaign_id VARCHAR(255) NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				current_node VARCHAR(255) NOT NULL,
				next_node VARCHAR(255),
				wait_until TIMESTAMP WITH TIME ZONE,
				scheduled_timer_id VARCHAR(255),
				completed_nodes JSONB NOT NULL DEFAULT '[]',
				sent_messages JSONB NOT NULL DEFAULT '[]',
				completed_waits JSONB NOT NULL DEFAULT '[]',
				execution_path JSONB NOT NULL DEFAULT '[]',
				error_message TEXT,
				messages_sent INT NOT NULL DEFAULT 0,
				last_message_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_leads_campaign_id ON leads(campaign_id);
			CREATE INDEX idx_leads_status ON leads(status);
			CREATE INDEX idx_leads_wait_until ON leads(wait_until) WHERE status = 'paused';

			-- External-signal bridge records.
			CREATE TABLE waiting_events (
				id VARCHAR(255) PRIMARY KEY,
				lead_id VARCHAR(255) NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
				campaign_id VARCHAR(255) NOT NULL,
				condition_node_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				target_url TEXT,
				message_node_id VARCHAR(255),
				processed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				processed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_waiting_events_lead_kind ON waiting_events(lead_id, kind) WHERE NOT processed;
			CREATE INDEX idx_waiting_events_lead_node ON waiting_events(lead_id, condition_node_id);

			-- Durable timers for the central scheduler.
			CREATE TABLE timers (
				id VARCHAR(255) PRIMARY KEY,
				lead_id VARCHAR(255) NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
				campaign_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				canceled BOOLEAN NOT NULL DEFAULT FALSE,
				fired BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_timers_due ON timers(fire_at) WHERE NOT fired AND NOT canceled;

			-- Append-only lead journal.
			CREATE TABLE journal_entries (
				seq BIGSERIAL PRIMARY KEY,
				lead_id VARCHAR(255) NOT NULL,
				campaign_id VARCHAR(255) NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				message TEXT NOT NULL,
				node_id VARCHAR(255),
				node_kind VARCHAR(50),
				details JSONB
			);

			CREATE INDEX idx_journal_entries_lead_id ON journal_entries(lead_id, seq);
		`,
	}
}
